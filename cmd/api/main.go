// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/combine-pdf/internal/auth"
	"github.com/yourusername/combine-pdf/internal/config"
	"github.com/yourusername/combine-pdf/internal/export"
	"github.com/yourusername/combine-pdf/internal/jobs"
	"github.com/yourusername/combine-pdf/internal/pdf"
	"github.com/yourusername/combine-pdf/internal/storage"
	"github.com/yourusername/combine-pdf/internal/workbench"
)

const sweepInterval = time.Minute

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := log.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定（クッキー署名鍵は必須）
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", "X-Output-Stale", "Content-Disposition"}
	router.Use(cors.New(corsConfig))

	// PDF処理とワークベンチ
	engine := pdf.NewEngine(cfg.GhostscriptPath, logger)
	pdfService, err := pdf.NewService(cfg, engine, logger)
	if err != nil {
		log.Fatalf("Failed to initialize pdf service: %v", err)
	}
	hub := workbench.NewHub(cfg.WorkDir, workbench.NewLibrary(engine), workbench.Limits{
		MaxDocuments: cfg.MaxDocuments,
		MaxPages:     cfg.MaxPages,
	}, logger)
	defer hub.CloseAll()
	go hub.Run(ctx, sweepInterval, time.Duration(cfg.WorkbenchIdleMinutes)*time.Minute)

	// 非同期ジョブ（Redis に接続できない場合は同期処理のみ）
	manager, err := setupJobs(ctx, cfg, pdfService, logger)
	if err != nil {
		logger.Printf("async jobs disabled: %v", err)
	} else {
		manager.StartWorkers()
		defer manager.Shutdown(context.Background())
	}

	writer, capability, err := setupExport(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize export: %v", err)
	}

	// ルーティングの設定
	setupRoutes(router, cfg, routeDeps{
		hub:        hub,
		pdfService: pdfService,
		manager:    manager,
		writer:     writer,
		capability: capability,
		logger:     logger,
	})

	// サーバーの起動
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("server shutdown: %v", err)
		}
	}()

	logger.Printf("Starting API server on %s (mode: %s, save: %s)", srv.Addr, cfg.GinMode, capability)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func setupExport(cfg *config.Config) (storage.Writer, export.Capability, error) {
	if !cfg.CanWriteFiles() {
		return storage.Noop{}, export.CapabilityShare, nil
	}
	local, err := storage.NewLocal(cfg.OutputDir)
	if err != nil {
		return nil, export.CapabilityShare, err
	}
	return local, export.CapabilityFileWrite, nil
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "combine-pdf-api",
		"version": "0.1.0",
	})
}

type routeDeps struct {
	hub        *workbench.Hub
	pdfService *pdf.Service
	manager    *jobs.Manager // nil なら非同期処理なし
	writer     storage.Writer
	capability export.Capability
	logger     *log.Logger
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, deps routeDeps) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	authManager := auth.NewManager(cfg)
	authManager.OnSessionEnd(func(sessionID string) {
		_ = deps.hub.Close(sessionID)
	})

	opts := workbench.HandlerOptions{
		AsyncThresholdBytes: cfg.AsyncThresholdBytes,
		AsyncThresholdPages: cfg.AsyncThresholdPages,
		ThumbnailWidth:      cfg.ThumbnailWidth,
		MaxThumbnailWidth:   cfg.MaxThumbnailWidth,
		Capability:          deps.capability,
		Writer:              deps.writer,
		SessionID:           auth.SessionID,
		Logger:              deps.logger,
	}
	if deps.manager != nil {
		opts.Scheduler = &composeScheduler{manager: deps.manager, service: deps.pdfService}
	}
	handlers := workbench.NewHandlers(deps.hub, deps.pdfService, opts)

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
		}

		protected := api.Group("")
		protected.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
		{
			handlers.Register(protected)
			if deps.manager != nil {
				protected.GET("/jobs/:id", jobStatusHandler(deps.manager))
				protected.GET("/jobs/:id/download", jobDownloadHandler(deps.pdfService))
			}
		}
	}
}
