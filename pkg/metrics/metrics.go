package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncPassTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "islapay",
			Name:      "wallet_sync_pass_total",
			Help:      "Total number of balance sync passes.",
		},
		[]string{"mode", "status"}, // mode: incremental/full, status: ok/error
	)

	SyncWalletErrorTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "islapay",
			Name:      "wallet_sync_wallet_error_total",
			Help:      "Per-wallet sync failures, isolated from the pass.",
		},
		[]string{"chain"},
	)

	SyncPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "islapay",
			Name:      "wallet_sync_pass_duration_seconds",
			Help:      "Balance sync pass latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "islapay",
			Name:      "chain_rpc_duration_seconds",
			Help:      "Outbound chain RPC latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"chain", "method", "status"},
	)

	DepositDecisionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "islapay",
			Name:      "deposit_decision_total",
			Help:      "Deposit approvals and rejections.",
		},
		[]string{"decision", "status"}, // decision: approve/reject, status: ok/invalid_state/error
	)

	TxRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "islapay",
			Name:      "chain_tx_recorded_total",
			Help:      "On-chain transactions recorded (deduped inserts excluded).",
		},
		[]string{"chain"},
	)
)
