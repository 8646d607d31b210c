package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"islapay.com/internal/ledger"
	"islapay.com/pkg/common"
	"islapay.com/pkg/xerr"
)

type DepositHandler struct {
	svc *ledger.Service
}

func NewDepositHandler(svc *ledger.Service) *DepositHandler {
	return &DepositHandler{svc: svc}
}

type createDepositReq struct {
	UserID       string `json:"user_id" binding:"required"`
	WalletID     string `json:"wallet_id" binding:"required"`
	Amount       string `json:"amount" binding:"required"`
	CurrencyCode string `json:"currency_code"`
	Method       string `json:"method"`
	ExternalID   string `json:"external_id"`
}

// Create 录入一笔待审批充值
func (h *DepositHandler) Create(c *gin.Context) {
	var req createDepositReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, xerr.Newf(xerr.RequestParamsError, "invalid request: %v", err))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		common.FailErr(c, xerr.New(xerr.RequestParamsError, "invalid amount"))
		return
	}

	d, err := h.svc.CreateDeposit(c.Request.Context(), &ledger.CreateDepositReq{
		UserID:       req.UserID,
		WalletID:     req.WalletID,
		Amount:       amount,
		CurrencyCode: req.CurrencyCode,
		Method:       req.Method,
		ExternalID:   req.ExternalID,
	})
	if err != nil {
		common.FailLogged(c, err)
		return
	}
	common.Success(c, d)
}

type approveReq struct {
	// ApproverID 可缺省，缺省时按系统审批落库
	ApproverID    string `json:"approver_id"`
	ApproverEmail string `json:"approver_email"`
	Reason        string `json:"reason"`
	// ReceivedAmount 实际到账金额，空表示按申报金额入账
	ReceivedAmount string `json:"received_amount"`
	ExchangeRate   string `json:"exchange_rate"`
}

// Approve 审批通过并入账
func (h *DepositHandler) Approve(c *gin.Context) {
	var req approveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, xerr.Newf(xerr.RequestParamsError, "invalid request: %v", err))
		return
	}

	svcReq := &ledger.ApproveReq{
		DepositID:     c.Param("id"),
		ApproverID:    req.ApproverID,
		ApproverEmail: req.ApproverEmail,
		Reason:        req.Reason,
	}
	if req.ReceivedAmount != "" {
		v, err := decimal.NewFromString(req.ReceivedAmount)
		if err != nil {
			common.FailErr(c, xerr.New(xerr.RequestParamsError, "invalid received_amount"))
			return
		}
		svcReq.ReceivedAmount = &v
	}
	if req.ExchangeRate != "" {
		v, err := decimal.NewFromString(req.ExchangeRate)
		if err != nil {
			common.FailErr(c, xerr.New(xerr.RequestParamsError, "invalid exchange_rate"))
			return
		}
		svcReq.ExchangeRate = &v
	}

	res, err := h.svc.Approve(c.Request.Context(), svcReq)
	if err != nil {
		common.FailLogged(c, err)
		return
	}
	common.Success(c, res)
}

type rejectReq struct {
	ApproverID    string `json:"approver_id" binding:"required"`
	ApproverEmail string `json:"approver_email"`
	Reason        string `json:"reason"`
}

// Reject 审批拒绝
func (h *DepositHandler) Reject(c *gin.Context) {
	var req rejectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, xerr.Newf(xerr.RequestParamsError, "invalid request: %v", err))
		return
	}

	d, err := h.svc.Reject(c.Request.Context(), &ledger.RejectReq{
		DepositID:     c.Param("id"),
		ApproverID:    req.ApproverID,
		ApproverEmail: req.ApproverEmail,
		Reason:        req.Reason,
	})
	if err != nil {
		common.FailLogged(c, err)
		return
	}
	common.Success(c, d)
}

// Get 查询单笔充值
func (h *DepositHandler) Get(c *gin.Context) {
	d, err := h.svc.GetDeposit(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.FailLogged(c, err)
		return
	}
	common.Success(c, d)
}
