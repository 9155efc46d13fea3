// Package app wires the process: logger, stores, repos, services,
// handlers, router, and (optionally) the embedded worker loop.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PoetCoderJun/autocut-backend/internal/artifacts"
	"github.com/PoetCoderJun/autocut-backend/internal/auth"
	"github.com/PoetCoderJun/autocut-backend/internal/billing"
	"github.com/PoetCoderJun/autocut-backend/internal/cleanup"
	"github.com/PoetCoderJun/autocut-backend/internal/coupons"
	"github.com/PoetCoderJun/autocut-backend/internal/data/db"
	"github.com/PoetCoderJun/autocut-backend/internal/data/repos"
	"github.com/PoetCoderJun/autocut-backend/internal/http/handlers"
	"github.com/PoetCoderJun/autocut-backend/internal/http/middleware"
	"github.com/PoetCoderJun/autocut-backend/internal/jobs"
	"github.com/PoetCoderJun/autocut-backend/internal/notify"
	"github.com/PoetCoderJun/autocut-backend/internal/objectstore"
	"github.com/PoetCoderJun/autocut-backend/internal/observability"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/envutil"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
	"github.com/PoetCoderJun/autocut-backend/internal/server"
	"github.com/PoetCoderJun/autocut-backend/internal/stagedrivers"
	"github.com/PoetCoderJun/autocut-backend/internal/worker"
)

type App struct {
	Log     *logger.Logger
	Cfg     Config
	Router  *gin.Engine
	Store   db.Store
	Queue   *db.Queue
	Jobs    *jobs.Service
	Billing *billing.Service
	Worker  *worker.Worker
	Sweeper *cleanup.Sweeper
	Bus     notify.Bus
	Metrics *observability.Metrics

	oss    *objectstore.Store
	cancel context.CancelFunc
}

func New() (*App, error) {
	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig()
	ctx := context.Background()

	// Relational store (users / coupons / ledger).
	store, err := db.NewStore(ctx, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init store: %w", err)
	}

	// The queue lives in its own local sqlite file regardless of the
	// primary store's mode, keeping hot-write contention local and the
	// queue alive through primary outages.
	queueSqlite, err := db.NewSqliteService(log, "queue.db")
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init queue db: %w", err)
	}
	queue, err := db.NewQueue(queueSqlite.DB())
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init queue: %w", err)
	}

	// Artifact store + job service.
	artifactStore, err := artifacts.New(cfg.WorkDir, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init artifact store: %w", err)
	}
	jobsSvc := jobs.NewService(artifactStore, log)

	// Repos + billing.
	primary := store.Primary()
	userRepo := repos.NewUserRepo(primary, log)
	couponRepo := repos.NewCouponRepo(primary, log)
	ledgerRepo := repos.NewLedgerRepo(primary, log)
	billingSvc := billing.NewService(primary, log, couponRepo, ledgerRepo, userRepo)

	// Object storage is optional: without OSS_BUCKET the direct multipart
	// path is the only upload route and cloud ASR must be given a local
	// file server elsewhere.
	var oss *objectstore.Store
	if cfg.OSSBucket != "" {
		oss, err = objectstore.New(ctx, log, os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("init object store: %w", err)
		}
	} else {
		log.Warn("OSS_BUCKET not set; presigned uploads disabled")
	}

	metrics := observability.Init(log)
	bus := notify.NewBus(log)
	verifier := auth.New(log)
	sheet := coupons.NewSheetSource()
	sweeper := cleanup.NewSweeper(artifactStore, cleanup.LoadPolicyFromEnv(), log)

	// Stage drivers.
	var resolver stagedrivers.AudioURLResolver
	if oss != nil {
		resolver = stagedrivers.NewOSSAudioURLResolver(oss, time.Duration(envutil.Int("OSS_SIGNED_URL_TTL_SECONDS", 900))*time.Second)
	}
	drivers := worker.StageDrivers{
		Transcribe:   stagedrivers.NewDashscopeTranscriber(resolver, log),
		AutoEdit:     stagedrivers.NewLLMAutoEditor(),
		TopicSegment: stagedrivers.NewLLMTopicSegmenter(),
	}

	workerLoop := worker.New(log, queue, jobsSvc, billingSvc, drivers, bus, sweeper, metrics)

	// Handlers + router.
	authMW := middleware.NewAuthMiddleware(log, verifier, userRepo)
	router := server.NewRouter(server.RouterConfig{
		Log:            log,
		AuthMiddleware: authMW,
		Metrics:        metrics,
		JobsHandler:    handlers.NewJobsHandler(log, jobsSvc, oss, sweeper),
		StepsHandler:   handlers.NewStepsHandler(log, jobsSvc, queue, billingSvc),
		RenderHandler:  handlers.NewRenderHandler(log, jobsSvc),
		CouponsHandler: handlers.NewCouponsHandler(log, billingSvc, couponRepo, sheet),
		MeHandler:      handlers.NewMeHandler(log, billingSvc),
	})

	return &App{
		Log:     log,
		Cfg:     cfg,
		Router:  router,
		Store:   store,
		Queue:   queue,
		Jobs:    jobsSvc,
		Billing: billingSvc,
		Worker:  workerLoop,
		Sweeper: sweeper,
		Bus:     bus,
		Metrics: metrics,
		oss:     oss,
	}, nil
}

// Start launches the background components: the embedded worker loop (when
// enabled) and the metrics queue-depth collector.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Metrics != nil {
		a.Metrics.StartQueueDepthCollector(ctx, a.Log, a.Queue)
	}
	if a.Cfg.EmbeddedWorker {
		go a.Worker.Run(ctx)
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.oss != nil {
		_ = a.oss.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
