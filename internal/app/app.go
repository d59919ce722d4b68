// Package app wires every collaborator this backend needs into one graph,
// the same role the teacher's internal/app plays: New() builds the graph,
// Start() launches background work, Run() blocks serving HTTP, Close()
// releases resources. Unlike the teacher, which wired many domain
// services behind one router, this graph has exactly one domain (the
// video pipeline) so the wiring is flatter: repos -> stage deps -> worker
// -> submission service -> HTTP handlers.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	apihttp "github.com/clipforge/clipforge-backend/internal/api/http"
	"github.com/clipforge/clipforge-backend/internal/breaker"
	jobsrepo "github.com/clipforge/clipforge-backend/internal/data/repos/jobs"
	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/jobs/orchestrator"
	"github.com/clipforge/clipforge-backend/internal/jobs/stages"
	"github.com/clipforge/clipforge-backend/internal/jobs/submission"
	"github.com/clipforge/clipforge-backend/internal/jobs/worker"
	"github.com/clipforge/clipforge-backend/internal/llm"
	"github.com/clipforge/clipforge-backend/internal/middleware"
	"github.com/clipforge/clipforge-backend/internal/platform/db"
	"github.com/clipforge/clipforge-backend/internal/platform/logger"
	"github.com/clipforge/clipforge-backend/internal/platform/observability"
	"github.com/clipforge/clipforge-backend/internal/platform/openai"
	"github.com/clipforge/clipforge-backend/internal/progress"
	"github.com/clipforge/clipforge-backend/internal/render"
	"github.com/clipforge/clipforge-backend/internal/retry"
	"github.com/clipforge/clipforge-backend/internal/storage"
)

// renderCallTimeout backstops a single RenderScene call independent of the
// caller's own scene-count-scaled deadline; generous because scene renders
// legitimately run for minutes, unlike breaker.DefaultConfig's 30s tuned
// for network calls.
const renderCallTimeout = 20 * time.Minute

// llmCallTimeout mirrors renderCallTimeout's reasoning for model calls,
// which routinely exceed breaker.DefaultConfig's 30s.
const llmCallTimeout = 120 * time.Second

// llmDependencies is every named dependency spec §4.9 routes LLM calls
// through: Planner talks to llm_planner, ScenarioBuilder/CodeGenerator
// talk to llm_scene, CodeGenerator's repair round talks to llm_helper.
// Pre-seeding their breakers here (rather than letting llm.Client lazily
// build one per dependency with breaker.DefaultConfig) is what gives them the longer
// CallTimeout.
var llmDependencies = []string{"llm_planner", "llm_scene", "llm_helper"}

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Router *gin.Engine
	Cfg    Config

	hub          *progress.Hub
	worker       *worker.Worker
	cancel       context.CancelFunc
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig()

	otelShutdown := observability.Init(context.Background(), log, observability.Config{
		ServiceName: "clipforge-backend",
		Environment: logMode,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	gdb := pg.DB()

	usersRepo := jobsrepo.NewUserRepo(gdb, log)
	jobsRepo := jobsrepo.NewJobRepo(gdb, log)
	queueRepo := jobsrepo.NewQueueRepo(gdb, log)
	filesRepo := jobsrepo.NewFileRepo(gdb, log)
	progressRepo := jobsrepo.NewProgressRepo(gdb, log)

	hub := progress.NewHub(log)
	reporter := progress.NewReporter(progressRepo, hub, log)

	retryRegistry := retry.NewRegistry(cfg.RetryMaxAttempts)

	storageManager, err := wireStorage(cfg, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	llmClient, err := wireLLM(log, retryRegistry)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init llm client: %w", err)
	}

	renderRunner := render.New(log, render.Config{
		RendererBinary: os.Getenv("RENDERER_BINARY"),
		FFmpegPath:     os.Getenv("FFMPEG_PATH"),
		FFprobePath:    os.Getenv("FFPROBE_PATH"),
	})
	renderBreaker := breaker.New("renderer", breaker.Config{
		FailureThreshold:   5,
		SuccessThreshold:   2,
		OpenTimeout:        30 * time.Second,
		CallTimeout:        renderCallTimeout,
		MaxOpenTimeout:     5 * time.Minute,
		ExponentialBackoff: true,
	})

	stageDeps := &stages.Deps{
		LLM:           llmClient,
		Render:        renderRunner,
		RenderBreaker: renderBreaker,
		Storage:       storageManager,
		Files:         filesRepo,
		Log:           log,
		WorkRoot:      cfg.LocalStorageRoot,
		PresignTTL:    cfg.DefaultPresignTTL,
	}
	stageList := stages.BuildStages(stageDeps)
	engine := orchestrator.NewEngine(retryRegistry)
	w := worker.NewWorker(gdb, log, jobsRepo, queueRepo, reporter, engine, stageList, cfg.Worker)

	// Share one cancel registry between the worker and the submission
	// service so Cancel() can reach a job this process's worker is
	// currently running, per spec §4.10's cancellation-within-grace-period
	// requirement.
	cancels := w.Cancels()
	submissionSvc := submission.NewService(gdb, log, usersRepo, jobsRepo, queueRepo, filesRepo, storageManager).WithCancelRegistry(cancels)

	verifier := middleware.NewJWTVerifier(cfg.JWTSecretKey)
	authMiddleware := middleware.NewAuthMiddleware(log, verifier)

	router := apihttp.NewRouter(apihttp.RouterConfig{
		AuthMiddleware: authMiddleware,
		VideosHandler:  apihttp.NewVideosHandler(submissionSvc),
		StreamHandler:  apihttp.NewStreamHandler(hub, submissionSvc),
		CORSOrigins:    cfg.CORSOrigins,
		ServiceName:    "clipforge-backend",
	})

	return &App{
		Log:          log,
		DB:           gdb,
		Router:       router,
		Cfg:          cfg,
		hub:          hub,
		worker:       w,
		otelShutdown: otelShutdown,
	}, nil
}

// newRemoteBackend is a package-level indirection over
// storage.NewRemoteBackend so wireStorage's mode-selection logic can be
// unit tested without dialing GCS, mirroring the teacher's
// newBucketServiceWithConfig seam in internal/app/storage_provider.go.
var newRemoteBackend = func(ctx context.Context, log *logger.Logger, bucket string, mode storage.RemoteObjectStorageMode, emulatorHost string) (storage.Backend, error) {
	return storage.NewRemoteBackend(ctx, log, bucket, mode, emulatorHost)
}

// wireStorage builds the local backend unconditionally (every mode needs a
// job scratch directory) and the remote GCS backend only when the
// configured mode actually uses it, per storage.Manager's Mode switch.
func wireStorage(cfg Config, log *logger.Logger) (*storage.Manager, error) {
	local := storage.NewLocalBackend(cfg.LocalStorageRoot)

	remote, err := resolveRemoteBackend(cfg, log)
	if err != nil {
		return nil, err
	}

	storageBreaker := breaker.New("object_store", breaker.DefaultConfig())
	storageRetry := retry.NewPolicy(types.ErrDependencyError, retry.DefaultMaxAttempts)
	return storage.NewManager(cfg.StorageMode, local, remote, storageBreaker, storageRetry, cfg.DeleteLocalAfterUpload), nil
}

// resolveRemoteBackend returns nil when the configured mode never reads or
// writes remote storage, so wireStorage can skip dialing GCS entirely.
func resolveRemoteBackend(cfg Config, log *logger.Logger) (storage.Backend, error) {
	if cfg.StorageMode != storage.ModeRemoteOnly && cfg.StorageMode != storage.ModeLocalAndRemote {
		return nil, nil
	}
	remote, err := newRemoteBackend(context.Background(), log, cfg.RemoteBucket, cfg.RemoteStorageMode, cfg.StorageEmulatorHost)
	if err != nil {
		return nil, fmt.Errorf("init remote storage backend: %w", err)
	}
	return remote, nil
}

// wireLLM builds the openai.Client transport and the per-dependency-named
// breaker wrapper, pre-seeding llmDependencies so each gets llmCallTimeout
// instead of breaker.DefaultConfig's 30s.
func wireLLM(log *logger.Logger, retryRegistry *retry.Registry) (*llm.Client, error) {
	inner, err := openai.NewClient(log)
	if err != nil {
		return nil, err
	}
	breakers := make(map[string]*breaker.Breaker, len(llmDependencies))
	for _, dep := range llmDependencies {
		breakers[dep] = breaker.New(dep, breaker.Config{
			FailureThreshold:   5,
			SuccessThreshold:   2,
			OpenTimeout:        30 * time.Second,
			CallTimeout:        llmCallTimeout,
			MaxOpenTimeout:     5 * time.Minute,
			ExponentialBackoff: true,
		})
	}
	return llm.New(inner, log, retryRegistry, breakers), nil
}

// Start launches the worker pool when cfg.RunWorker is set. Safe to call at
// most once; a second call is a no-op, matching the teacher's App.Start
// idempotence guard.
func (a *App) Start(runServer, runWorker bool) {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if runWorker {
		a.worker.Start(ctx)
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
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.otelShutdown(ctx)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
