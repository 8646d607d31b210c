package handler

import (
	"github.com/gin-gonic/gin"

	"islapay.com/internal/domain"
	"islapay.com/internal/ledger"
	"islapay.com/internal/provision"
	"islapay.com/pkg/common"
	"islapay.com/pkg/xerr"
)

type WalletHandler struct {
	provision *provision.Service
	ledger    *ledger.Service
	wallets   domain.WalletRepo
}

func NewWalletHandler(p *provision.Service, l *ledger.Service, wallets domain.WalletRepo) *WalletHandler {
	return &WalletHandler{provision: p, ledger: l, wallets: wallets}
}

type provisionReq struct {
	// UserID 空或 "house" 表示平台自有钱包
	UserID   string  `json:"user_id"`
	ChainIDs []int64 `json:"chain_ids"`
}

// Provision 按链开钱包，返回每条链各自的结果
func (h *WalletHandler) Provision(c *gin.Context) {
	var req provisionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, xerr.Newf(xerr.RequestParamsError, "invalid request: %v", err))
		return
	}

	results, err := h.provision.Provision(c.Request.Context(), req.UserID, req.ChainIDs)
	if err != nil {
		common.FailLogged(c, err)
		return
	}
	common.Success(c, results)
}

// Get 查询钱包 (不含密钥材料)
func (h *WalletHandler) Get(c *gin.Context) {
	w, err := h.wallets.GetWallet(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.FailLogged(c, err)
		return
	}
	common.Success(c, w)
}

// Verify 账实对账：账本重算余额 vs 存量余额
func (h *WalletHandler) Verify(c *gin.Context) {
	v, err := h.ledger.VerifyBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.FailLogged(c, err)
		return
	}
	common.Success(c, v)
}
