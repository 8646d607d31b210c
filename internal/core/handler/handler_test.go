package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"islapay.com/internal/chain"
	"islapay.com/internal/domain"
	"islapay.com/internal/infra/persistence"
	"islapay.com/internal/keyvault"
	"islapay.com/internal/ledger"
	"islapay.com/internal/provision"
	"islapay.com/pkg/middleware"
	"islapay.com/pkg/xerr"
)

type testApp struct {
	engine *gin.Engine
	repo   *persistence.Repo
	ledger *ledger.Service
}

// newTestApp 真实服务 + 内存库；不挂 prometheus，避免重复注册
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	repo := persistence.New(db)
	require.NoError(t, repo.AutoMigrate())

	vault, err := keyvault.New("test-master-secret")
	require.NoError(t, err)
	registry, err := chain.NewRegistry([]domain.ChainConfig{
		{ChainID: 2, Name: "bitcoin", Family: domain.FamilyBitcoin, Symbol: "BTC", Decimals: 8},
	})
	require.NoError(t, err)

	ledgerSvc := ledger.NewService(repo, repo, repo, repo, nil)
	provSvc := provision.NewService(registry, vault, nil, repo, repo, repo, nil)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recover())

	dh := NewDepositHandler(ledgerSvc)
	wh := NewWalletHandler(provSvc, ledgerSvc, repo)
	api := r.Group("/api/v1")
	api.POST("/wallets", wh.Provision)
	api.GET("/wallets/:id", wh.Get)
	api.GET("/wallets/:id/verify", wh.Verify)
	api.POST("/deposits", dh.Create)
	api.GET("/deposits/:id", dh.Get)
	api.POST("/deposits/:id/approve", dh.Approve)
	api.POST("/deposits/:id/reject", dh.Reject)

	return &testApp{engine: r, repo: repo, ledger: ledgerSvc}
}

func (a *testApp) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func (a *testApp) seedPending(t *testing.T) (*domain.Wallet, *domain.Deposit) {
	t.Helper()
	w := &domain.Wallet{
		ID:           uuid.NewString(),
		UserID:       "user-1",
		ChainID:      1,
		Chain:        "ETHEREUM",
		Address:      "0x3333333333333333333333333333333333333333",
		CurrencyCode: "USD",
	}
	require.NoError(t, a.repo.SaveWallet(context.Background(), w))

	d, err := a.ledger.CreateDeposit(context.Background(), &ledger.CreateDepositReq{
		UserID:       w.UserID,
		WalletID:     w.ID,
		Amount:       decimal.RequireFromString("100"),
		CurrencyCode: "USD",
	})
	require.NoError(t, err)
	return w, d
}

type respEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Status  string          `json:"status"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) *respEnvelope {
	t.Helper()
	var env respEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return &env
}

func TestApproveDeposit(t *testing.T) {
	app := newTestApp(t)
	wallet, d := app.seedPending(t)

	w := app.do(t, http.MethodPost, "/api/v1/deposits/"+d.ID+"/approve", gin.H{
		"approver_id":     "admin-1",
		"approver_email":  "admin@example.com",
		"reason":          "bank slip verified",
		"received_amount": "98.5",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res ledger.ApproveResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
	assert.True(t, res.CreditedAmount.Equal(decimal.RequireFromString("98.5")))
	// 响应里带创建的入账条目
	require.NotNil(t, res.Entry)
	assert.Equal(t, domain.LedgerTypeDepositApproved, res.Entry.Type)
	assert.True(t, res.Entry.Amount.Equal(decimal.RequireFromString("98.5")))
	assert.Equal(t, "bank slip verified", res.Entry.Metadata["reason"])
	require.NotNil(t, res.Verification)
	assert.True(t, res.Verification.IsBalanced)

	got, err := app.repo.GetWallet(context.Background(), wallet.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Decimal.Equal(decimal.RequireFromString("98.5")))
}

func TestApproveNonPendingReturns400WithStatus(t *testing.T) {
	app := newTestApp(t)
	_, d := app.seedPending(t)

	w := app.do(t, http.MethodPost, "/api/v1/deposits/"+d.ID+"/approve", gin.H{"approver_id": "admin-1"})
	require.Equal(t, http.StatusOK, w.Code)

	// 第二次审批：400，body 里带当前状态
	w = app.do(t, http.MethodPost, "/api/v1/deposits/"+d.ID+"/approve", gin.H{"approver_id": "admin-2"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	env := decode(t, w)
	assert.Equal(t, xerr.InvalidState, env.Code)
	assert.Equal(t, string(domain.DepositApproved), env.Status)
}

func TestApproveMissingDeposit(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodPost, "/api/v1/deposits/"+uuid.NewString()+"/approve", gin.H{"approver_id": "admin-1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApproveWithoutApprover(t *testing.T) {
	// 审批人可缺省，按系统审批落库
	app := newTestApp(t)
	wallet, d := app.seedPending(t)

	w := app.do(t, http.MethodPost, "/api/v1/deposits/"+d.ID+"/approve", gin.H{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res ledger.ApproveResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
	assert.Nil(t, res.Deposit.ApprovedBy)
	assert.Equal(t, "system", res.Deposit.ApproverEmail)

	got, err := app.repo.GetWallet(context.Background(), wallet.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Decimal.Equal(decimal.RequireFromString("100")))
}

func TestApproveValidation(t *testing.T) {
	app := newTestApp(t)
	_, d := app.seedPending(t)

	// 到账金额不是数字
	w := app.do(t, http.MethodPost, "/api/v1/deposits/"+d.ID+"/approve", gin.H{
		"approver_id":     "admin-1",
		"received_amount": "not-a-number",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRejectDeposit(t *testing.T) {
	app := newTestApp(t)
	wallet, d := app.seedPending(t)

	w := app.do(t, http.MethodPost, "/api/v1/deposits/"+d.ID+"/reject", gin.H{
		"approver_id": "admin-1",
		"reason":      "suspicious source",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 拒绝不入账
	got, err := app.repo.GetWallet(context.Background(), wallet.ID)
	require.NoError(t, err)
	assert.False(t, got.Balance.Valid)
}

func TestCreateDeposit(t *testing.T) {
	app := newTestApp(t)
	wallet, _ := app.seedPending(t)

	w := app.do(t, http.MethodPost, "/api/v1/deposits", gin.H{
		"user_id":       wallet.UserID,
		"wallet_id":     wallet.ID,
		"amount":        "55",
		"currency_code": "USD",
		"external_id":   "bank-ref-9",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var d domain.Deposit
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &d))
	assert.Equal(t, domain.DepositPending, d.Status)

	// 同一个 external_id 再提交返回同一笔
	w = app.do(t, http.MethodPost, "/api/v1/deposits", gin.H{
		"user_id":     wallet.UserID,
		"wallet_id":   wallet.ID,
		"amount":      "55",
		"external_id": "bank-ref-9",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var dup domain.Deposit
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &dup))
	assert.Equal(t, d.ID, dup.ID)
}

func TestProvisionWalletEndpoint(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodPost, "/api/v1/wallets", gin.H{
		"user_id":   "user-9",
		"chain_ids": []int64{2},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var results []provision.WalletResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &results))
	require.Len(t, results, 1)
	assert.Equal(t, "created", results[0].Status)
	assert.NotEmpty(t, results[0].Address)

	// 查回来不带密钥材料字段
	w = app.do(t, http.MethodGet, "/api/v1/wallets/"+results[0].WalletID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// 未知链
	w = app.do(t, http.MethodPost, "/api/v1/wallets", gin.H{
		"user_id":   "user-9",
		"chain_ids": []int64{12345},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	app := newTestApp(t)
	wallet, d := app.seedPending(t)

	w := app.do(t, http.MethodPost, "/api/v1/deposits/"+d.ID+"/approve", gin.H{"approver_id": "admin-1"})
	require.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/wallets/"+wallet.ID+"/verify", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var v domain.BalanceVerification
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &v))
	assert.True(t, v.IsBalanced)
}
