package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/realmcore/api/rest"
	"github.com/kasuganosora/realmcore/api/sse"
	apiws "github.com/kasuganosora/realmcore/api/ws"
	"github.com/kasuganosora/realmcore/audit"
	"github.com/kasuganosora/realmcore/bus"
	"github.com/kasuganosora/realmcore/bus/natsbus"
	"github.com/kasuganosora/realmcore/cache"
	"github.com/kasuganosora/realmcore/config"
	dbadapter "github.com/kasuganosora/realmcore/db"
	"github.com/kasuganosora/realmcore/game/chat"
	"github.com/kasuganosora/realmcore/game/command"
	"github.com/kasuganosora/realmcore/game/player"
	"github.com/kasuganosora/realmcore/game/trade"
	"github.com/kasuganosora/realmcore/game/world"
	"github.com/kasuganosora/realmcore/lease"
	"github.com/kasuganosora/realmcore/ledger"
	mw "github.com/kasuganosora/realmcore/middleware"
	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/persist"
	"github.com/kasuganosora/realmcore/plugin/hook"
	"github.com/kasuganosora/realmcore/resource"
	"github.com/kasuganosora/realmcore/scheduler"
	"github.com/kasuganosora/realmcore/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Database (audit trail) ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	auditSvc := audit.New(db, logger)
	logger.Info("DB initialized")

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Game data ----
	cat, err := resource.Load(cfg.Game.DataDir)
	if err != nil {
		log.Fatalf("game data: %v", err)
	}
	logger.Info("game data loaded",
		zap.Int("classes", len(cat.Classes)),
		zap.Int("skins", len(cat.Skins)))

	// ---- Persistence ----
	leases := lease.NewManager(c, cfg.Lease.TTL, logger)
	queue := persist.New(cfg.Persist, logger)
	st := store.New(c, leases, cat, store.Options{
		MaxCharSlot: cfg.Ledger.MaxCharSlot,
		VaultCount:  cfg.Ledger.VaultCount,
	}, logger)
	board := ledger.NewBoard(c, cfg.Ledger.LegendsPageSize)
	led := ledger.New(st, board, auditSvc, ledger.RetryPolicy{Retries: cfg.Ledger.CASRetries}, logger)

	// ---- Game Systems ----
	hooks := hook.NewHookCenter()
	sm := player.NewSessionManager(logger)
	tradeSvc := trade.NewService(cfg.Game.TradeRequestMs, auditSvc, logger)
	tradeSvc.UseHooks(hooks)
	wm := world.NewManager(cat, world.OptionsFrom(cfg.Game), world.Deps{Store: st, Persist: queue}, logger)
	wm.OnCreate(tradeSvc.Install)
	wm.GetOrCreate(world.NexusID, cfg.Game.DefaultWorld)

	// ---- Inter-server bus ----
	b, closeBus, err := openBus(cfg, pubsub, logger)
	if err != nil {
		log.Fatalf("bus: %v", err)
	}
	chatMgr := chat.NewManager(cfg.Server.InstanceName, b, sm, wm, st, leases, hooks, logger)
	if err := chatMgr.Start(ctx); err != nil {
		log.Fatalf("chat: %v", err)
	}
	commands := command.NewRegistry(command.Deps{
		Store:      st,
		Ledger:     led,
		Trade:      tradeSvc,
		Chat:       chatMgr,
		Sessions:   sm,
		ServerName: cfg.Server.InstanceName,
	}, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	maint := &scheduler.Maintenance{
		Sessions: sm,
		Leases:   leases,
		Legends:  board,
		Worlds:   wm,
		Logger:   logger,
	}
	maint.Install(sched, scheduler.Intervals{
		LeaseRenew:   cfg.Lease.RenewInterval,
		LegendsClean: cfg.Schedule.LegendsClean,
		Presence:     cfg.Schedule.Presence,
	})

	// ---- WS Router ----
	wsRouter := apiws.NewRouter(logger)
	apiws.NewGameHandlers(chatMgr, commands, logger).RegisterHandlers(wsRouter)
	apiws.NewTradeHandlers(tradeSvc, logger).RegisterHandlers(wsRouter)
	wsH := apiws.NewHandler(apiws.Deps{
		Store:    st,
		Leases:   leases,
		Sessions: sm,
		Worlds:   wm,
		Trade:    tradeSvc,
		Hooks:    hooks,
		Router:   wsRouter,
		Persist:  queue,
	}, cfg.Security, cfg.Game, logger)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(ctx, rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"instance": chatMgr.Instance(),
			"online":   sm.Count(),
		})
	})

	authH := apirest.NewAuthHandler(st, cfg.Security, logger)
	charH := apirest.NewCharacterHandler(st, led, logger)
	rankH := apirest.NewRankingHandler(board, st, logger)
	guildH := apirest.NewGuildHandler(st, logger)
	adminH := apirest.NewAdminHandler(st, led, sm, wm, chatMgr, sched, logger)
	requireAuth := mw.Auth(cfg.Security.JWTSecret, st)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/register", authH.Register)
		authG.POST("/login", authH.Login)
		authG.POST("/refresh", requireAuth, authH.Refresh)

		charsG := api.Group("/characters")
		charsG.Use(requireAuth)
		charsG.GET("", charH.List)
		charsG.POST("", charH.Create)
		charsG.DELETE("/:id", charH.Delete)

		api.GET("/legends/:span", rankH.Legends)
		api.GET("/guilds/:name", guildH.Detail)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Server.AdminAllow), mw.AdminKey(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/players", adminH.ListPlayers)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.POST("/kick/:name", adminH.KickPlayer)
		adminG.POST("/accounts/:id/ban", adminH.BanAccount)
		adminG.POST("/accounts/:id/grant", adminH.Grant)
		adminG.POST("/accounts/:id/wipe", adminH.WipeCharacters)
		adminG.POST("/mute", adminH.Mute)
		adminG.POST("/announce", adminH.Announce)
		adminG.POST("/fame/reset", adminH.ResetFame)
	}

	// ---- WebSocket / SSE ----
	r.GET("/ws", wsH.ServeWS)
	r.GET("/sse", sse.NewHandler(b, st, cfg.Security, logger).ServeSSE)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Connections go first so every player is saved under its lease before
	// the write-behind queue drains.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	for _, s := range sm.All() {
		s.Close()
	}
	waitEmpty(shutdownCtx, sm)
	wsH.WaitSaves(shutdownCtx)

	sched.Stop()
	chatMgr.Stop(shutdownCtx)
	wm.StopAll()
	queue.Stop()
	auditSvc.Stop(shutdownCtx)
	if err := closeBus(); err != nil {
		logger.Warn("bus close", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// openBus connects the inter-server bus selected by bus.driver. The
// returned func closes the bus and any embedded server.
func openBus(cfg *config.Config, ps cache.PubSub, logger *zap.Logger) (bus.Bus, func() error, error) {
	switch cfg.Bus.Driver {
	case "", "cache":
		b := bus.NewCacheBus(ps, logger)
		return b, b.Close, nil

	case "nats":
		b, err := natsbus.Connect(cfg.Bus.NatsURL, cfg.Bus.Prefix, cfg.Server.InstanceName, logger)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil

	case "embedded":
		ns, err := natsbus.StartServer(cfg.Bus.EmbeddedHost, cfg.Bus.EmbeddedPort, 5*time.Second, logger)
		if err != nil {
			return nil, nil, err
		}
		b, err := natsbus.Connect(ns.ClientURL(), cfg.Bus.Prefix, cfg.Server.InstanceName, logger)
		if err != nil {
			ns.Shutdown()
			return nil, nil, err
		}
		return b, func() error {
			err := b.Close()
			ns.Shutdown()
			return err
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
}

// waitEmpty waits until every session has unregistered or ctx ends.
func waitEmpty(ctx context.Context, sm *player.SessionManager) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for sm.Count() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
