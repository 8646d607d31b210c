package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"go.uber.org/zap"

	"islapay.com/config"
	"islapay.com/internal/chain"
	"islapay.com/internal/core/handler"
	"islapay.com/internal/events"
	"islapay.com/internal/indexer"
	"islapay.com/internal/infra/persistence"
	"islapay.com/internal/keyvault"
	"islapay.com/internal/ledger"
	"islapay.com/internal/provision"
	"islapay.com/internal/syncer"
	pkgcfg "islapay.com/pkg/config"
	"islapay.com/pkg/hdwallet"
	"islapay.com/pkg/logger"
	"islapay.com/pkg/orm"
	"islapay.com/pkg/safe"
	"islapay.com/pkg/xredis"
)

const lockKey = "islapay:wallet-core:sync-lock"

func main() {
	// 1. 配置
	var c config.Config
	if _, err := pkgcfg.LoadAndWatch("wallet-core", &c); err != nil {
		log.Fatalf("load config: %v", err)
	}
	if c.Name == "" {
		c.Name = "wallet-core"
	}

	logger.Init(c.Name, c.LogLevel)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. 启动期硬校验：密钥托管和链注册表配置错误直接拒绝启动
	vault, err := keyvault.New(c.Vault.MasterSecret)
	if err != nil {
		logger.Fatal(ctx, "密钥托管初始化失败", zap.Error(err))
	}

	registry, err := chain.NewRegistry(c.ChainConfigs())
	if err != nil {
		logger.Fatal(ctx, "链注册表初始化失败", zap.Error(err))
	}

	var hd *hdwallet.HDWallet
	if c.Vault.Mnemonic != "" {
		hd, err = hdwallet.New(c.Vault.Mnemonic, &chaincfg.MainNetParams)
		if err != nil {
			logger.Fatal(ctx, "HD 钱包初始化失败", zap.Error(err))
		}
	}

	// 3. 基础设施
	db := orm.NewMySQL(&orm.Config{
		DSN:         c.Mysql.DSN,
		MaxIdle:     c.Mysql.MaxIdle,
		MaxOpen:     c.Mysql.MaxOpen,
		MaxLifetime: c.Mysql.MaxLifetime,
		LogLevel:    c.LogLevel,
	})
	repo := persistence.New(db)

	var lock *xredis.DistLock
	if c.Redis.Addr != "" {
		rdb := xredis.NewRedis(&xredis.Config{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		lock = xredis.NewDistLock(rdb, lockKey, 5*time.Minute)
	}

	var pub *events.Publisher
	if c.Nats.URL != "" {
		pub, err = events.NewPublisher(c.Nats.URL)
		if err != nil {
			// 事件是旁路能力，连不上降级为不发
			logger.Warn(ctx, "NATS 连接失败，事件发布关闭", zap.Error(err))
			pub = nil
		} else {
			defer pub.Close()
		}
	}

	logger.Info(ctx, "基础设施就绪",
		zap.Int("chains", len(registry.All())),
		zap.Bool("dist_lock", lock != nil),
		zap.Bool("events", pub != nil))

	// 4. 业务组件
	ix := indexer.New(repo)
	sync := syncer.New(registry, repo, ix, syncer.Options{
		Concurrency:    c.Sync.Concurrency,
		HistoryLimit:   c.Sync.HistoryLimit,
		StaleThreshold: c.Sync.StaleThreshold,
	})
	ledgerSvc := ledger.NewService(repo, repo, repo, repo, pub)
	provSvc := provision.NewService(registry, vault, hd, repo, repo, repo, pub)

	// 5. 同步循环
	loop := syncer.NewLoop(sync, repo, lock, syncer.LoopOptions{
		Interval:   c.Sync.Interval,
		FullEvery:  c.Sync.FullEvery,
		MaxBackoff: c.Sync.MaxBackoff,
	})
	loopDone := make(chan struct{})
	safe.GoCtx(ctx, func(ctx context.Context) {
		defer close(loopDone)
		_ = loop.Run(ctx)
	})

	// 6. HTTP
	srv := handler.NewRouter(c.HTTP.Addr, &handler.Handlers{
		Deposit: handler.NewDepositHandler(ledgerSvc),
		Wallet:  handler.NewWalletHandler(provSvc, ledgerSvc, repo),
		Sync:    handler.NewSyncHandler(sync),
	}, ctx.Done())

	safe.Go(func() {
		logger.Info(ctx, "http server 启动", zap.String("addr", c.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx, "http server 异常退出", zap.Error(err))
		}
	})

	// 7. 优雅退出
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info(ctx, "收到退出信号")

	// 先优雅停同步循环：在途轮次跑完、检查点落库后再继续
	loop.Stop()
	select {
	case <-loopDone:
	case <-time.After(30 * time.Second):
		logger.Warn(ctx, "同步循环退出超时，强制中断")
		cancel()
		<-loopDone
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http server 关闭超时", zap.Error(err))
	}

	cancel()
	logger.Info(context.Background(), "进程退出")
}
