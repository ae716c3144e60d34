package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AtmoMix/cache"
	"AtmoMix/config"
	"AtmoMix/core/atmosphere"
	"AtmoMix/core/auth"
	"AtmoMix/core/crossfade"
	"AtmoMix/core/events"
	"AtmoMix/core/membership"
	"AtmoMix/core/pad"
	"AtmoMix/core/padstate"
	"AtmoMix/core/relay"
	"AtmoMix/db"
	"AtmoMix/logger"
	"AtmoMix/repository"
	"AtmoMix/storage"

	"github.com/gorilla/mux"
)

// NewRouter 注册全部路由；/api 下除登录外都需要令牌
func NewRouter(h *APIHandler, stream *EventStream) *mux.Router {
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	router.HandleFunc("/api/auth/login", h.LoginHandler).Methods(http.MethodPost)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(h.AuthMiddleware)

	// 氛围
	api.HandleFunc("/atmospheres", h.ListAtmospheresHandler).Methods(http.MethodGet)
	api.HandleFunc("/atmospheres", h.CreateAtmosphereHandler).Methods(http.MethodPost)
	api.HandleFunc("/atmospheres/search", h.SearchAtmospheresHandler).Methods(http.MethodGet)
	api.HandleFunc("/atmospheres/categories", h.CategoriesHandler).Methods(http.MethodGet)
	api.HandleFunc("/atmospheres/load/cancel", h.CancelLoadHandler).Methods(http.MethodPost)
	api.HandleFunc("/atmospheres/{id:[0-9]+}", h.GetAtmosphereHandler).Methods(http.MethodGet)
	api.HandleFunc("/atmospheres/{id:[0-9]+}", h.DeleteAtmosphereHandler).Methods(http.MethodDelete)
	api.HandleFunc("/atmospheres/{id:[0-9]+}/duplicate", h.DuplicateAtmosphereHandler).Methods(http.MethodPost)
	api.HandleFunc("/atmospheres/{id:[0-9]+}/integrity", h.IntegrityHandler).Methods(http.MethodGet)
	api.HandleFunc("/atmospheres/{id:[0-9]+}/load", h.LoadAtmosphereHandler).Methods(http.MethodPost)

	// 成员编辑
	api.HandleFunc("/membership", h.GetMembershipHandler).Methods(http.MethodGet)
	api.HandleFunc("/membership/flush", h.FlushMembershipHandler).Methods(http.MethodPost)
	api.HandleFunc("/membership/{id:[0-9]+}", h.SelectMembershipHandler).Methods(http.MethodPost)
	api.HandleFunc("/membership/sounds/{audioId:[0-9]+}", h.AddMemberHandler).Methods(http.MethodPost)
	api.HandleFunc("/membership/sounds/{audioId:[0-9]+}", h.RemoveMemberHandler).Methods(http.MethodDelete)
	api.HandleFunc("/membership/sounds/{audioId:[0-9]+}", h.UpdateMemberHandler).Methods(http.MethodPatch)
	api.HandleFunc("/membership/sounds/{audioId:[0-9]+}/delay", h.UpdateMemberDelayHandler).Methods(http.MethodPut)

	// 图层
	api.HandleFunc("/pads", h.ListPadsHandler).Methods(http.MethodGet)
	api.HandleFunc("/pads/{audioId:[0-9]+}/toggle", h.TogglePadHandler).Methods(http.MethodPost)
	api.HandleFunc("/pads/{audioId:[0-9]+}/volume", h.SetPadVolumeHandler).Methods(http.MethodPost)
	api.HandleFunc("/pads/{audioId:[0-9]+}/loop", h.TogglePadLoopHandler).Methods(http.MethodPost)
	api.HandleFunc("/pads/{audioId:[0-9]+}/mute", h.TogglePadMuteHandler).Methods(http.MethodPost)
	api.HandleFunc("/pads/{audioId:[0-9]+}/delay", h.SetPadDelayHandler).Methods(http.MethodPut)
	api.HandleFunc("/pads/{audioId:[0-9]+}/contexts/{context}", h.AddPadToContextHandler).Methods(http.MethodPost)
	api.HandleFunc("/pads/{audioId:[0-9]+}/contexts/{context}", h.RemovePadFromContextHandler).Methods(http.MethodDelete)

	// 事件推送
	router.Handle("/ws/events", h.AuthMiddleware(stream)).Methods(http.MethodGet)

	return router
}

// Start 连接依赖、组装组件并启动 HTTP 服务，收到退出信号后优雅关闭
func Start(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		return err
	}
	defer db.CloseGormDB()

	if err := db.Migrate(); err != nil {
		return err
	}

	// Redis 不可用时退化为无缓存
	var detailCache atmosphere.DetailCache
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis 不可用，氛围缓存已关闭", logger.ErrorField(err))
	} else {
		defer cache.CloseRedis()
		detailCache = cache.NewAtmosphereCache(cache.RedisClient, cfg.AtmosphereCacheTTL)
	}

	source, err := storage.NewAudioSource(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to init audio source: %w", err)
	}

	hub := events.NewHub()

	if cfg.RedisEventsChannel != "" {
		client, err := relay.Connect(ctx, cfg)
		if err != nil {
			logger.Warn("通知转发未启用", logger.ErrorField(err))
		} else {
			defer client.Close()
			r := relay.NewRedisRelay(client, cfg.RedisEventsChannel, 0)
			defer r.Attach(hub)()
			go r.Run(ctx)
		}
	}

	atmosphereRepo := repository.NewGormAtmosphereRepository(db.GormDB)
	audioRepo := repository.NewGormAudioFileRepository(db.GormDB)
	service := atmosphere.NewService(atmosphereRepo, audioRepo, detailCache)

	store := padstate.NewStore(hub)
	library := pad.NewLibrary(source, store)
	defer library.StopAll()
	pads := pad.NewContextManager(store, library)

	orchestrator := crossfade.NewOrchestrator(store, library, hub, crossfade.Config{
		DefaultDuration:  time.Duration(cfg.CrossfadeDefaultMs) * time.Millisecond,
		DefaultCurve:     cfg.CrossfadeDefaultCurve,
		ProgressInterval: cfg.CrossfadeProgressInterval,
	})
	members := membership.NewManager(service, hub, cfg.PersistDebounce)
	manager := atmosphere.NewManager(service, orchestrator, members)

	handler := NewAPIHandler(Deps{
		Atmospheres: manager,
		Service:     service,
		Members:     members,
		Pads:        pads,
		Store:       store,
		AudioFiles:  audioRepo,
		Tokens:      tokens,
		Config:      cfg,
	})
	stream := NewEventStream(hub, store)

	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     NewRouter(handler, stream),
		ReadTimeout: 30 * time.Second,
		// 加载请求会等待整个过渡结束
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("服务启动", logger.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("正在关闭服务...")
	orchestrator.CancelCurrent()

	// 退出前写入未保存的成员修改
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFlush()
	if members.HasPendingPersist() {
		if err := members.Flush(flushCtx); err != nil {
			logger.Warn("退出前保存成员失败", logger.ErrorField(err))
		}
	}

	stream.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("服务已停止", logger.Int("pads", library.Len()))
	return nil
}
