package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/AyushSriv06/codesync2/internal/config"
	clog "github.com/AyushSriv06/codesync2/internal/log"
	"github.com/AyushSriv06/codesync2/internal/presence"
	"github.com/AyushSriv06/codesync2/internal/registry"
	"github.com/AyushSriv06/codesync2/internal/room"
	"github.com/AyushSriv06/codesync2/internal/server"
	"github.com/AyushSriv06/codesync2/internal/service"
	"github.com/AyushSriv06/codesync2/internal/ws"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	// main 负责加载配置、初始化日志、组装协调服务并启动 HTTP/WebSocket 服务。
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	store := room.NewStore(
		room.WithChatLimit(cfg.ChatHistoryLimit),
		room.WithDefaults(cfg.DefaultDocument, cfg.DefaultLanguage),
	)
	conns := registry.New()
	pm := presence.NewManager(store, presence.WithStaleAfter(cfg.CursorStaleAfter()))
	hub := ws.NewHub()
	router := service.NewRouter(store, pm, conns, hub)
	sup := service.NewSupervisor(store, conns, router)

	engine, limiter := server.SetupRouter(cfg, store, hub, sup)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("collaboration server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout(),
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				limiter.Stop()
				return srv.Shutdown(ctx)
			},
			"websocket-hub": func(ctx context.Context) error {
				hub.CloseAll()
				if err := hub.Wait(ctx); err != nil {
					return err
				}
				log.Info().Int("rooms", sup.Rooms()).Int("connections", sup.Connections()).Msg("all connections drained")
				return nil
			},
		},
	)
	exitCode := <-wait
	log.Info().Int("code", exitCode).Msg("server exited")
	os.Exit(exitCode)
}
