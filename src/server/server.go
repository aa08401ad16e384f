package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	app "imghost/src/app"
	cfg "imghost/src/configuration"
	"imghost/src/queue"
	db "imghost/src/repository"
)

// NewRouter registers the HTTP surface on a fresh gin engine.
func NewRouter(config *cfg.Properties, handler *AppHandler, auth *AuthHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     config.Server.AllowOrigins,
		AllowMethods:     []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "Cache-Control", "User-Agent", "Referrer", "Host", "Token", requestIDHeader},
		ExposeHeaders:    []string{"Content-Length", requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	if config.Server.Debug {
		pprof.Register(router)
	}

	router.GET("/health", handler.GetHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/media/images/*path", handler.GetMedia)
	router.GET("/images/expiration_link/:linkId/", handler.GetExpirationLink)

	router.GET("/login", auth.Login)
	router.GET("/singin", auth.Singin)
	router.GET("/logout", auth.Logout)
	router.GET("/callback", auth.Callback)

	authorized := router.Group("/", auth.Authorize())
	authorized.GET("/account", auth.Account)
	authorized.POST("/images/", handler.PostImage)
	authorized.GET("/images/", handler.GetImageList)
	authorized.GET("/images/:imageId/", handler.GetImage)
	authorized.POST("/images/:imageId/expiration_link/", handler.PostExpirationLink)
	authorized.PUT("/admin/accounts/:userId/tier", handler.PutAccountTier)

	router.NoRoute(func(ctx *gin.Context) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": app.KindNotFound, "message": "route not found"})
	})
	return router
}

// ProvisionTiers loads tier definitions and upserts them into the store.
func ProvisionTiers(ctx context.Context, config *cfg.Properties, store *db.Store) error {
	tiers, err := cfg.LoadTiers(config.TiersFile)
	if err != nil {
		return err
	}
	records := make([]app.AccountTier, 0, len(tiers))
	for _, tier := range tiers {
		records = append(records, app.AccountTier{
			Name:                tier.Name,
			ThumbnailSizes:      tier.ThumbnailSizes,
			AllowOriginalLink:   tier.OriginalLink,
			AllowExpirationLink: tier.ExpirationLink,
		})
	}
	if err := store.ProvisionTiers(ctx, records); err != nil {
		return err
	}
	log.Info().Int("tiers", len(records)).Msg("account tiers provisioned")
	return nil
}

func newBlobStore(ctx context.Context, config *cfg.Properties) (app.BlobStore, error) {
	if !config.S3Enabled() {
		log.Warn().Msg("S3 credentials are not set, images are kept in memory")
		return db.NewMemoryBlobStore(), nil
	}
	clientS3, err := app.NewMinioS3Client(
		config.S3.Host,
		config.S3.AccessKey,
		config.S3.SecretKey,
		config.S3.Bucket,
		config.S3.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to minio: %w", err)
	}
	if err := clientS3.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return clientS3, nil
}

type jobQueue interface {
	app.JobPublisher
	Stop()
}

func newJobQueue(ctx context.Context, config *cfg.Properties, handler queue.Handler) (jobQueue, error) {
	switch config.Pipeline.Queue {
	case "memory", "":
		pool := queue.NewWorkerPool(handler, config.Pipeline.Workers, config.Pipeline.QueueSize)
		pool.Start(ctx)
		return pool, nil
	case "amqp":
		mq := queue.NewAMQPQueue(config.Pipeline.AMQPURL, config.Pipeline.AMQPQueue, handler)
		if err := mq.Connect(); err != nil {
			return nil, err
		}
		if err := mq.Start(ctx, config.Pipeline.Workers); err != nil {
			mq.Stop()
			return nil, err
		}
		return mq, nil
	default:
		return nil, fmt.Errorf("unknown pipeline queue %q", config.Pipeline.Queue)
	}
}

func RunServer(config *cfg.Properties) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !config.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := db.Open(config.DB.Driver, config.DB.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return err
	}
	if err := ProvisionTiers(ctx, config, store); err != nil {
		return err
	}

	blobs, err := newBlobStore(ctx, config)
	if err != nil {
		return err
	}

	access := app.NewAccessControl(store, cfg.DefaultTierName)
	urls := app.NewURLBuilder(config.Server.RootDomain)
	pipeline := app.NewThumbnailPipeline(access, store, blobs, app.NewResizer())

	jobs, err := newJobQueue(ctx, config, pipeline.Handle)
	if err != nil {
		return err
	}
	defer jobs.Stop()

	sessions, err := db.NewAuthDataBase(config)
	if err != nil {
		return err
	}
	if !sessions.Connect() {
		return errors.New("can not connect to session store")
	}

	handler := NewAppHandler(config,
		app.NewImageService(access, store, blobs, jobs, urls),
		app.NewLinkService(access, store, store, urls),
		access,
		blobs)
	router := NewRouter(config, handler, NewAuthHandler(ctx, config, sessions))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: config.Server.ReadTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
