package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"islapay.com/pkg/logger"
)

const (
	SubjectDepositApproved = "deposit.approved"
	SubjectDepositRejected = "deposit.rejected"
	SubjectWalletCreated   = "wallet.created"
)

// Publisher 把领域事件广播到 NATS。事件是尽力投递的旁路通知，
// 发布失败只记日志，绝不回滚已提交的业务事务
type Publisher struct {
	nc *nats.Conn
}

func NewPublisher(url string, opts ...nats.Option) (*Publisher, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc}, nil
}

// Publish payload 序列化为 JSON。p 为 nil 时是 no-op，方便不配消息队列的部署
func (p *Publisher) Publish(ctx context.Context, subject string, payload interface{}) {
	if p == nil || p.nc == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error(ctx, "事件序列化失败", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		logger.Error(ctx, "事件发布失败", zap.String("subject", subject), zap.Error(err))
		return
	}
	logger.Debug(ctx, "事件已发布", zap.String("subject", subject))
}

func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	_ = p.nc.Drain()
	p.nc.Close()
}

// DepositEvent 充值审批结果事件
type DepositEvent struct {
	DepositID    string    `json:"deposit_id"`
	WalletID     string    `json:"wallet_id"`
	UserID       string    `json:"user_id"`
	Amount       string    `json:"amount"`
	CurrencyCode string    `json:"currency_code"`
	Status       string    `json:"status"`
	DecidedAt    time.Time `json:"decided_at"`
}

// WalletCreatedEvent 钱包开通事件
type WalletCreatedEvent struct {
	WalletID  string    `json:"wallet_id"`
	UserID    string    `json:"user_id"`
	Chain     string    `json:"chain"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}
