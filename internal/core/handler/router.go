package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"golang.org/x/time/rate"

	"islapay.com/pkg/middleware"
	"islapay.com/pkg/ratelimit"
)

// Handlers 路由需要的全部处理器
type Handlers struct {
	Deposit *DepositHandler
	Wallet  *WalletHandler
	Sync    *SyncHandler
}

// NewRouter 组装 gin 引擎和 HTTP server
func NewRouter(addr string, h *Handlers, done <-chan struct{}) *http.Server {
	store := ratelimit.NewStore(rate.Limit(50), 100, 10*time.Minute)
	store.StartJanitor(done, time.Minute)

	r := gin.New()
	p := ginprom.NewPrometheus("islapay")
	p.Use(r)
	r.Use(
		middleware.RequestID(),
		cors.Default(),
		middleware.Recover(),
		middleware.RateLimit(store),
	)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		api.POST("/wallets", h.Wallet.Provision)
		api.GET("/wallets/:id", h.Wallet.Get)
		api.GET("/wallets/:id/verify", h.Wallet.Verify)

		api.POST("/deposits", h.Deposit.Create)
		api.GET("/deposits/:id", h.Deposit.Get)
		api.POST("/deposits/:id/approve", h.Deposit.Approve)
		api.POST("/deposits/:id/reject", h.Deposit.Reject)

		api.POST("/sync", h.Sync.Trigger)
	}

	return &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}
