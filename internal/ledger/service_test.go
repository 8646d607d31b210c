package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"islapay.com/internal/domain"
	"islapay.com/internal/infra/persistence"
	"islapay.com/pkg/xerr"
)

type fixture struct {
	repo *persistence.Repo
	svc  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	repo := persistence.New(db)
	require.NoError(t, repo.AutoMigrate())

	// 事件发布器不配，nil Publisher 是 no-op
	return &fixture{
		repo: repo,
		svc:  NewService(repo, repo, repo, repo, nil),
	}
}

func (f *fixture) seedWallet(t *testing.T, userID string) *domain.Wallet {
	t.Helper()
	w := &domain.Wallet{
		ID:           uuid.NewString(),
		UserID:       userID,
		ChainID:      1,
		Chain:        "ETHEREUM",
		Address:      "0x2222222222222222222222222222222222222222",
		Provider:     "house",
		CurrencyCode: "USD",
	}
	require.NoError(t, f.repo.SaveWallet(context.Background(), w))
	return w
}

func (f *fixture) seedPendingDeposit(t *testing.T, w *domain.Wallet, amount string) *domain.Deposit {
	t.Helper()
	d, err := f.svc.CreateDeposit(context.Background(), &CreateDepositReq{
		UserID:       w.UserID,
		WalletID:     w.ID,
		Amount:       decimal.RequireFromString(amount),
		CurrencyCode: "USD",
		Method:       "bank_transfer",
	})
	require.NoError(t, err)
	return d
}

func TestCreateDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.seedWallet(t, "user-1")

	t.Run("落pending并留痕", func(t *testing.T) {
		d := f.seedPendingDeposit(t, w, "100")
		assert.Equal(t, domain.DepositPending, d.Status)

		got, err := f.svc.GetDeposit(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.DepositPending, got.Status)

		// pending 条目不影响可结算余额
		sum, err := f.repo.SumLedgerEntries(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, sum.IsZero())
	})

	t.Run("external_id去重返回已有记录", func(t *testing.T) {
		req := &CreateDepositReq{
			UserID:       w.UserID,
			WalletID:     w.ID,
			Amount:       decimal.NewFromInt(50),
			CurrencyCode: "USD",
			ExternalID:   "bank-ref-001",
		}
		first, err := f.svc.CreateDeposit(ctx, req)
		require.NoError(t, err)

		second, err := f.svc.CreateDeposit(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("金额必须为正", func(t *testing.T) {
		_, err := f.svc.CreateDeposit(ctx, &CreateDepositReq{
			UserID:   w.UserID,
			WalletID: w.ID,
			Amount:   decimal.NewFromInt(-5),
		})
		assert.True(t, xerr.IsCode(err, xerr.RequestParamsError))
	})

	t.Run("钱包不存在", func(t *testing.T) {
		_, err := f.svc.CreateDeposit(ctx, &CreateDepositReq{
			UserID:   "user-x",
			WalletID: uuid.NewString(),
			Amount:   decimal.NewFromInt(5),
		})
		assert.True(t, xerr.IsCode(err, xerr.RecordNotFound))
	})
}

func TestApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("缺省按申报金额入账", func(t *testing.T) {
		w := f.seedWallet(t, "user-a")
		d := f.seedPendingDeposit(t, w, "100")

		res, err := f.svc.Approve(ctx, &ApproveReq{
			DepositID:     d.ID,
			ApproverID:    "admin-1",
			ApproverEmail: "admin@example.com",
		})
		require.NoError(t, err)
		assert.True(t, res.CreditedAmount.Equal(decimal.RequireFromString("100")))

		// 入账条目随结果返回
		require.NotNil(t, res.Entry)
		assert.Equal(t, domain.LedgerTypeDepositApproved, res.Entry.Type)
		assert.True(t, res.Entry.Amount.Equal(decimal.RequireFromString("100")))
		assert.Equal(t, d.ID, res.Entry.ReferenceID)

		got, err := f.repo.GetWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, got.Balance.Decimal.Equal(decimal.RequireFromString("100")))

		// 审批后账本和余额必须对得上
		require.NotNil(t, res.Verification)
		assert.True(t, res.Verification.IsBalanced)
	})

	t.Run("审批理由落库并写进账本元数据", func(t *testing.T) {
		w := f.seedWallet(t, "user-g")
		d := f.seedPendingDeposit(t, w, "100")

		res, err := f.svc.Approve(ctx, &ApproveReq{
			DepositID:  d.ID,
			ApproverID: "admin-1",
			Reason:     "bank slip verified",
		})
		require.NoError(t, err)
		assert.Equal(t, "bank slip verified", res.Entry.Metadata["reason"])

		dep, err := f.svc.GetDeposit(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, "bank slip verified", dep.Reason)
	})

	t.Run("审批人和理由可缺省按系统审批落库", func(t *testing.T) {
		w := f.seedWallet(t, "user-h")
		d := f.seedPendingDeposit(t, w, "100")

		res, err := f.svc.Approve(ctx, &ApproveReq{DepositID: d.ID})
		require.NoError(t, err)
		assert.Equal(t, "Admin approval", res.Entry.Metadata["reason"])

		dep, err := f.svc.GetDeposit(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.DepositApproved, dep.Status)
		assert.Nil(t, dep.ApprovedBy)
		assert.Equal(t, "system", dep.ApproverEmail)
		assert.Equal(t, "Admin approval", dep.Reason)

		got, err := f.repo.GetWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, got.Balance.Decimal.Equal(decimal.RequireFromString("100")))
	})

	t.Run("实际到账金额优先于申报金额", func(t *testing.T) {
		w := f.seedWallet(t, "user-b")
		d := f.seedPendingDeposit(t, w, "100")

		received := decimal.RequireFromString("98.5")
		rate := decimal.RequireFromString("0.985")
		res, err := f.svc.Approve(ctx, &ApproveReq{
			DepositID:      d.ID,
			ApproverID:     "admin-1",
			ReceivedAmount: &received,
			ExchangeRate:   &rate,
		})
		require.NoError(t, err)
		assert.True(t, res.CreditedAmount.Equal(received))

		got, err := f.repo.GetWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, got.Balance.Decimal.Equal(received))

		// 汇率只留痕
		dep, err := f.svc.GetDeposit(ctx, d.ID)
		require.NoError(t, err)
		require.True(t, dep.ExchangeRate.Valid)
		assert.True(t, dep.ExchangeRate.Decimal.Equal(rate))
	})

	t.Run("只带汇率不带到账金额时按申报金额入账", func(t *testing.T) {
		w := f.seedWallet(t, "user-c")
		d := f.seedPendingDeposit(t, w, "200")

		rate := decimal.RequireFromString("1.1")
		res, err := f.svc.Approve(ctx, &ApproveReq{
			DepositID:    d.ID,
			ApproverID:   "admin-1",
			ExchangeRate: &rate,
		})
		require.NoError(t, err)
		assert.True(t, res.CreditedAmount.Equal(decimal.RequireFromString("200")))
	})

	t.Run("重复审批拿InvalidState且只入账一次", func(t *testing.T) {
		w := f.seedWallet(t, "user-d")
		d := f.seedPendingDeposit(t, w, "100")

		_, err := f.svc.Approve(ctx, &ApproveReq{DepositID: d.ID, ApproverID: "admin-1"})
		require.NoError(t, err)

		_, err = f.svc.Approve(ctx, &ApproveReq{DepositID: d.ID, ApproverID: "admin-2"})
		require.Error(t, err)
		assert.True(t, xerr.IsCode(err, xerr.InvalidState))
		// 错误里带当前状态
		assert.Equal(t, string(domain.DepositApproved), xerr.From(err).Status)

		got, err := f.repo.GetWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, got.Balance.Decimal.Equal(decimal.RequireFromString("100")))
	})

	t.Run("拒绝后不能再通过", func(t *testing.T) {
		w := f.seedWallet(t, "user-e")
		d := f.seedPendingDeposit(t, w, "100")

		_, err := f.svc.Reject(ctx, &RejectReq{DepositID: d.ID, ApproverID: "admin-1", Reason: "suspicious"})
		require.NoError(t, err)

		_, err = f.svc.Approve(ctx, &ApproveReq{DepositID: d.ID, ApproverID: "admin-2"})
		assert.True(t, xerr.IsCode(err, xerr.InvalidState))
		assert.Equal(t, string(domain.DepositRejected), xerr.From(err).Status)

		// 余额纹丝不动
		got, err := f.repo.GetWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.False(t, got.Balance.Valid)
	})

	t.Run("充值不存在返回404", func(t *testing.T) {
		_, err := f.svc.Approve(ctx, &ApproveReq{DepositID: uuid.NewString(), ApproverID: "admin-1"})
		assert.True(t, xerr.IsCode(err, xerr.RecordNotFound))
	})

	t.Run("到账金额必须为正", func(t *testing.T) {
		w := f.seedWallet(t, "user-f")
		d := f.seedPendingDeposit(t, w, "100")

		bad := decimal.NewFromInt(0)
		_, err := f.svc.Approve(ctx, &ApproveReq{
			DepositID:      d.ID,
			ApproverID:     "admin-1",
			ReceivedAmount: &bad,
		})
		assert.True(t, xerr.IsCode(err, xerr.RequestParamsError))
	})
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.seedWallet(t, "user-r")
	d := f.seedPendingDeposit(t, w, "100")

	got, err := f.svc.Reject(ctx, &RejectReq{
		DepositID:     d.ID,
		ApproverID:    "admin-1",
		ApproverEmail: "admin@example.com",
		Reason:        "document mismatch",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DepositRejected, got.Status)
	assert.Equal(t, "document mismatch", got.Reason)

	// 拒绝不产生入账条目
	sum, err := f.repo.SumLedgerEntries(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())

	// 终态幂等
	_, err = f.svc.Reject(ctx, &RejectReq{DepositID: d.ID, ApproverID: "admin-2"})
	assert.True(t, xerr.IsCode(err, xerr.InvalidState))
}

func TestVerifyBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.seedWallet(t, "user-v")

	// 人为制造账实不符：只动余额不写账本
	require.NoError(t, f.repo.CreditWalletBalance(ctx, w.ID, decimal.NewFromInt(42)))

	v, err := f.svc.VerifyBalance(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, v.IsBalanced)
	assert.True(t, v.ExpectedBalance.IsZero())
	assert.True(t, v.ActualBalance.Equal(decimal.NewFromInt(42)))
	assert.True(t, v.Discrepancy.Equal(decimal.NewFromInt(42)))
}
