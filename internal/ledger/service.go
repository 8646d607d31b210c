package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"islapay.com/internal/domain"
	"islapay.com/internal/events"
	"islapay.com/pkg/logger"
	"islapay.com/pkg/metrics"
	"islapay.com/pkg/xerr"
)

// Service 充值审批和账本。核心约束：
//   - pending -> approved | rejected，终态只写一次
//   - 入账 = 状态流转 + 账本条目 + 余额增量，三者在同一事务里，全成或全败
//   - 同一笔充值并发审批最多只有一个赢家，其余拿到 InvalidState
type Service struct {
	deposits domain.DepositRepo
	wallets  domain.WalletRepo
	entries  domain.LedgerRepo
	tx       domain.TxManager
	pub      *events.Publisher
}

func NewService(deposits domain.DepositRepo, wallets domain.WalletRepo, entries domain.LedgerRepo, tx domain.TxManager, pub *events.Publisher) *Service {
	return &Service{
		deposits: deposits,
		wallets:  wallets,
		entries:  entries,
		tx:       tx,
		pub:      pub,
	}
}

// CreateDepositReq 外部检测或人工录入一笔待审批充值
type CreateDepositReq struct {
	UserID       string
	WalletID     string
	Amount       decimal.Decimal
	CurrencyCode string
	Method       string
	// ExternalID 非空时作为去重键，重复提交返回已有记录
	ExternalID string
}

// CreateDeposit 落一笔 pending 充值，同时写一条 pending 账本条目留痕。
// ExternalID 重复时返回已有充值，不报错
func (s *Service) CreateDeposit(ctx context.Context, req *CreateDepositReq) (*domain.Deposit, error) {
	if req.UserID == "" || req.WalletID == "" {
		return nil, xerr.New(xerr.RequestParamsError, "user id and wallet id are required")
	}
	if !req.Amount.IsPositive() {
		return nil, xerr.New(xerr.RequestParamsError, "amount must be positive")
	}

	if req.ExternalID != "" {
		existing, err := s.deposits.FindDepositByExternalID(ctx, req.ExternalID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			logger.Info(ctx, "外部充值重复提交，返回已有记录",
				zap.String("external_id", req.ExternalID),
				zap.String("deposit_id", existing.ID))
			return existing, nil
		}
	}

	// 钱包必须存在
	wallet, err := s.wallets.GetWallet(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}

	d := &domain.Deposit{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		WalletID:     wallet.ID,
		Amount:       req.Amount,
		CurrencyCode: req.CurrencyCode,
		Status:       domain.DepositPending,
		Method:       req.Method,
	}
	if req.ExternalID != "" {
		d.ExternalID = &req.ExternalID
	}

	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		if err := s.deposits.CreateDeposit(ctx, d); err != nil {
			return err
		}
		return s.entries.InsertLedgerEntry(ctx, &domain.LedgerEntry{
			ID:           uuid.NewString(),
			WalletID:     d.WalletID,
			UserID:       d.UserID,
			Type:         domain.LedgerTypeDepositPending,
			Amount:       d.Amount,
			CurrencyCode: d.CurrencyCode,
			Status:       "pending",
			ReferenceID:  d.ID,
			Description:  "deposit pending approval",
			CreatedAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ApproveReq 审批通过请求
// ApproverID 可缺省：自动化入账路径没有具体审批人，按系统审批落库
type ApproveReq struct {
	DepositID     string
	ApproverID    string
	ApproverEmail string
	Reason        string
	// ReceivedAmount 实际到账金额，非空时以它入账
	ReceivedAmount *decimal.Decimal
	// ExchangeRate 只做留痕，不参与入账金额计算
	ExchangeRate *decimal.Decimal
}

// ApproveResult 审批结果，带入账条目和对账报告
type ApproveResult struct {
	Deposit        *domain.Deposit             `json:"deposit"`
	Entry          *domain.LedgerEntry         `json:"ledger_entry"`
	CreditedAmount decimal.Decimal             `json:"credited_amount"`
	Verification   *domain.BalanceVerification `json:"verification,omitempty"`
}

// 审批人缺省时的落库值
const (
	defaultApproverEmail = "system"
	defaultApproveReason = "Admin approval"
)

// Approve 审批通过并入账。入账金额 = ReceivedAmount，缺省回落到申报金额。
// 非 pending 状态返回 InvalidState 并携带当前状态
func (s *Service) Approve(ctx context.Context, req *ApproveReq) (*ApproveResult, error) {
	if req.DepositID == "" {
		return nil, xerr.New(xerr.RequestParamsError, "deposit id is required")
	}
	if req.ReceivedAmount != nil && !req.ReceivedAmount.IsPositive() {
		return nil, xerr.New(xerr.RequestParamsError, "received amount must be positive")
	}

	d, err := s.deposits.GetDeposit(ctx, req.DepositID)
	if err != nil {
		return nil, err
	}
	// 事务外的前置检查，真正的防线是事务里的 CAS
	if d.Status != domain.DepositPending {
		return nil, xerr.NewInvalidState(string(d.Status), "deposit is not pending")
	}

	credit := d.Amount
	if req.ReceivedAmount != nil {
		credit = *req.ReceivedAmount
	}

	approverEmail := req.ApproverEmail
	if approverEmail == "" {
		approverEmail = defaultApproverEmail
	}
	reason := req.Reason
	if reason == "" {
		reason = defaultApproveReason
	}

	now := time.Now().UTC()
	d.Status = domain.DepositApproved
	if req.ApproverID != "" {
		d.ApprovedBy = &req.ApproverID
	}
	d.ApproverEmail = approverEmail
	d.Reason = reason
	d.ApprovedAt = &now
	d.CompletedAt = &now
	if req.ReceivedAmount != nil {
		d.ReceivedAmount = decimal.NewNullDecimal(*req.ReceivedAmount)
	}
	if req.ExchangeRate != nil {
		d.ExchangeRate = decimal.NewNullDecimal(*req.ExchangeRate)
	}

	meta := domain.JSONMap{
		"deposit_id":      d.ID,
		"approved_by":     approverEmail,
		"reason":          reason,
		"declared_amount": d.Amount.String(),
	}
	if req.ApproverID != "" {
		meta["approved_by"] = req.ApproverID
	}
	if req.ReceivedAmount != nil {
		meta["received_amount"] = req.ReceivedAmount.String()
	}
	if req.ExchangeRate != nil {
		meta["exchange_rate"] = req.ExchangeRate.String()
	}

	entry := &domain.LedgerEntry{
		ID:           uuid.NewString(),
		WalletID:     d.WalletID,
		UserID:       d.UserID,
		Type:         domain.LedgerTypeDepositApproved,
		Amount:       credit,
		CurrencyCode: d.CurrencyCode,
		Status:       "completed",
		ReferenceID:  d.ID,
		Description:  "deposit approved",
		Metadata:     meta,
		CreatedAt:    now,
	}

	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		won, err := s.deposits.DecideDeposit(ctx, d)
		if err != nil {
			return err
		}
		if !won {
			// 并发审批输了，读出赢家写下的状态回给调用方
			current, gerr := s.deposits.GetDeposit(ctx, d.ID)
			if gerr != nil {
				return gerr
			}
			return xerr.NewInvalidState(string(current.Status), "deposit is not pending")
		}

		if err := s.entries.InsertLedgerEntry(ctx, entry); err != nil {
			return err
		}

		return s.wallets.CreditWalletBalance(ctx, d.WalletID, credit)
	})
	if err != nil {
		metrics.DepositDecisionTotal.WithLabelValues("approve", "failed").Inc()
		return nil, err
	}
	metrics.DepositDecisionTotal.WithLabelValues("approve", "ok").Inc()

	logger.Info(ctx, "充值审批通过",
		zap.String("deposit_id", d.ID),
		zap.String("wallet_id", d.WalletID),
		zap.String("credited", credit.String()),
		zap.String("approved_by", req.ApproverID))

	s.pub.Publish(ctx, events.SubjectDepositApproved, &events.DepositEvent{
		DepositID:    d.ID,
		WalletID:     d.WalletID,
		UserID:       d.UserID,
		Amount:       credit.String(),
		CurrencyCode: d.CurrencyCode,
		Status:       string(domain.DepositApproved),
		DecidedAt:    now,
	})

	res := &ApproveResult{Deposit: d, Entry: entry, CreditedAmount: credit}

	// 对账是旁路动作，失败不影响已提交的入账
	if v, verr := s.VerifyBalance(ctx, d.WalletID); verr != nil {
		logger.Warn(ctx, "审批后对账失败", zap.String("wallet_id", d.WalletID), zap.Error(verr))
	} else {
		res.Verification = v
		if !v.IsBalanced {
			logger.Warn(ctx, "钱包余额和账本不一致",
				zap.String("wallet_id", v.WalletID),
				zap.String("expected", v.ExpectedBalance.String()),
				zap.String("actual", v.ActualBalance.String()),
				zap.String("discrepancy", v.Discrepancy.String()))
		}
	}
	return res, nil
}

// RejectReq 审批拒绝请求
type RejectReq struct {
	DepositID     string
	ApproverID    string
	ApproverEmail string
	Reason        string
}

// Reject 拒绝一笔充值。只流转状态，不动余额不写入账条目
func (s *Service) Reject(ctx context.Context, req *RejectReq) (*domain.Deposit, error) {
	if req.DepositID == "" || req.ApproverID == "" {
		return nil, xerr.New(xerr.RequestParamsError, "deposit id and approver id are required")
	}

	d, err := s.deposits.GetDeposit(ctx, req.DepositID)
	if err != nil {
		return nil, err
	}
	if d.Status != domain.DepositPending {
		return nil, xerr.NewInvalidState(string(d.Status), "deposit is not pending")
	}

	now := time.Now().UTC()
	d.Status = domain.DepositRejected
	d.ApprovedBy = &req.ApproverID
	d.ApproverEmail = req.ApproverEmail
	d.Reason = req.Reason
	d.CompletedAt = &now

	won, err := s.deposits.DecideDeposit(ctx, d)
	if err != nil {
		metrics.DepositDecisionTotal.WithLabelValues("reject", "failed").Inc()
		return nil, err
	}
	if !won {
		current, gerr := s.deposits.GetDeposit(ctx, d.ID)
		if gerr != nil {
			return nil, gerr
		}
		metrics.DepositDecisionTotal.WithLabelValues("reject", "lost").Inc()
		return nil, xerr.NewInvalidState(string(current.Status), "deposit is not pending")
	}
	metrics.DepositDecisionTotal.WithLabelValues("reject", "ok").Inc()

	logger.Info(ctx, "充值被拒绝",
		zap.String("deposit_id", d.ID),
		zap.String("approved_by", req.ApproverID),
		zap.String("reason", req.Reason))

	s.pub.Publish(ctx, events.SubjectDepositRejected, &events.DepositEvent{
		DepositID:    d.ID,
		WalletID:     d.WalletID,
		UserID:       d.UserID,
		Amount:       d.Amount.String(),
		CurrencyCode: d.CurrencyCode,
		Status:       string(domain.DepositRejected),
		DecidedAt:    now,
	})
	return d, nil
}

// VerifyBalance 从全量账本重算余额，和钱包存量余额比对。
// 只报告差异，不自动修正
func (s *Service) VerifyBalance(ctx context.Context, walletID string) (*domain.BalanceVerification, error) {
	expected, err := s.entries.SumLedgerEntries(ctx, walletID)
	if err != nil {
		return nil, err
	}
	w, err := s.wallets.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}

	actual := decimal.Zero
	if w.Balance.Valid {
		actual = w.Balance.Decimal
	}
	diff := actual.Sub(expected)
	return &domain.BalanceVerification{
		WalletID:        walletID,
		ExpectedBalance: expected,
		ActualBalance:   actual,
		Discrepancy:     diff,
		IsBalanced:      diff.IsZero(),
	}, nil
}

// GetDeposit 查询单笔充值
func (s *Service) GetDeposit(ctx context.Context, id string) (*domain.Deposit, error) {
	return s.deposits.GetDeposit(ctx, id)
}
