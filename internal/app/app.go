package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"paper_test_backend/internal/config"
	"paper_test_backend/internal/controller"
	"paper_test_backend/internal/jobs"
	"paper_test_backend/internal/repository"
	"paper_test_backend/internal/service"
	"paper_test_backend/internal/session"
	"paper_test_backend/pkg/configwatcher"
	"paper_test_backend/pkg/database"
	"paper_test_backend/pkg/logger"
	"paper_test_backend/pkg/monitoring"
	"paper_test_backend/pkg/security"
	"paper_test_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	serviceName     = "paper-test-backend"
	shutdownTimeout = 10 * time.Second
)

type App struct {
	Config    *config.Config
	Router    *gin.Engine
	DB        *gorm.DB
	Redis     *redis.Client
	Sessions  *session.Manager
	Hub       *session.Hub
	Scheduler *jobs.Scheduler
	Limiter   *security.Limiter

	services        *services
	tracer          *sdktrace.TracerProvider
	stopWatch       context.CancelFunc
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user       *repository.UserRepository
	test       *repository.TestRepository
	testCache  *repository.TestCache
	submission *repository.SubmissionRepository
	task       *repository.TaskRepository
}

type services struct {
	storage    *service.StorageService
	identity   service.IdentityProvider
	auth       *service.AuthService
	test       *service.TestService
	submission *service.SubmissionService
	task       *service.TaskService
}

type controllers struct {
	auth       *controller.AuthController
	health     *controller.HealthController
	test       *controller.TestController
	submission *controller.SubmissionController
	task       *controller.TaskController
	session    *controller.SessionController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) applyConfig(cfg *config.Config) {
	for _, callback := range a.configCallbacks {
		callback(cfg)
	}
}

func (a *App) initRepositories(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *repositories {
	return &repositories{
		user:       repository.NewUserRepository(db),
		test:       repository.NewTestRepository(db),
		testCache:  repository.NewTestCache(rdb, cfg.Redis.CacheTTL),
		submission: repository.NewSubmissionRepository(db),
		task:       repository.NewTaskRepository(db),
	}
}

func (a *App) initIdentity(repos *repositories, cfg *config.Config) (service.IdentityProvider, error) {
	if cfg.Auth.Provider != "demo" {
		return service.NewDatabaseIdentityProvider(repos.user), nil
	}

	demo, err := service.LoadDemoIdentityProvider(cfg.Auth.DemoUsersFile)
	if err != nil {
		return nil, err
	}
	if err := demo.Seed(context.Background(), repos.user); err != nil {
		return nil, err
	}
	logger.Log.Warn("demo identity provider active, registration disabled", zap.String("file", cfg.Auth.DemoUsersFile))
	return demo, nil
}

func (a *App) initServices(repos *repositories, cfg *config.Config) (*services, error) {
	s := &services{}

	storage, err := service.NewStorageService(&cfg.Storage)
	if err != nil {
		return nil, err
	}
	s.storage = storage

	identity, err := a.initIdentity(repos, cfg)
	if err != nil {
		return nil, err
	}
	s.identity = identity

	s.auth = service.NewAuthService(repos.user, identity, cfg)
	s.test = service.NewTestService(repos.test, repos.testCache, s.storage)
	s.submission = service.NewSubmissionService(repos.submission, repos.test, s.storage)
	s.task = service.NewTaskService(repos.task, s.storage, cfg.Task.MaxVideoSeconds, cfg.Session.StagingDir)
	return s, nil
}

// documentBaseURL 本地存储返回相对地址，未配置公开地址时从本机回环读取
func documentBaseURL(cfg *config.Config) string {
	if cfg.Storage.PublicBaseURL != "" {
		return cfg.Storage.PublicBaseURL
	}
	return "http://127.0.0.1:" + cfg.Server.Port
}

func (a *App) initSessions(s *services, cfg *config.Config) {
	a.Hub = session.NewHub()
	a.Sessions = session.NewManager(
		s.test,
		s.submission,
		s.storage,
		session.NewHTTPDocumentSource(documentBaseURL(cfg), cfg.Session.DocumentTimeout),
		a.Hub,
		session.OptionsFromConfig(cfg.Session),
	)
}

func (a *App) initControllers(s *services) *controllers {
	return &controllers{
		auth:       controller.NewAuthController(s.auth),
		health:     controller.NewHealthController(a.DB, a.Redis),
		test:       controller.NewTestController(s.test),
		submission: controller.NewSubmissionController(s.submission),
		task:       controller.NewTaskController(s.task),
		session:    controller.NewSessionController(a.Sessions, a.Hub),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(a.Limiter.Middleware())

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// New 在已建立的数据库与缓存连接上组装服务；rdb 可为空，此时不使用缓存
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*App, error) {
	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db, rdb, cfg)
	services, err := app.initServices(repos, cfg)
	if err != nil {
		return nil, err
	}
	app.services = services
	app.initSessions(services, cfg)
	controllers := app.initControllers(services)

	app.Limiter = security.NewLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute)
	scheduler, err := jobs.New(cfg.Task.SweepCron, services.task, app.Sessions, app.Limiter)
	if err != nil {
		return nil, fmt.Errorf("schedule jobs: %w", err)
	}
	app.Scheduler = scheduler

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == "local" {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.RegisterConfigCallback(logger.ApplyMode)
	app.RegisterConfigCallback(func(c *config.Config) {
		app.Sessions.ApplyConfig(c.Session)
	})

	return app, nil
}

// NewApp 连接数据库与缓存并组装完整应用；MigrateOnly 时只执行迁移
func NewApp(cfg *config.Config, configDir string) (*App, error) {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if cfg.ForceMigrate || cfg.Server.Mode != "release" {
		if err := database.Migrate(db); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		logger.Log.Info("Database migrated")
	}
	if cfg.MigrateOnly {
		return &App{Config: cfg, DB: db}, nil
	}

	// 缓存不可用时退化为直接读库
	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Warn("Redis unavailable, test cache disabled", zap.Error(err))
		rdb = nil
	}

	app, err := New(cfg, db, rdb)
	if err != nil {
		return nil, err
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(serviceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		app.tracer = tp
	}

	ctx, cancel := context.WithCancel(context.Background())
	app.stopWatch = cancel
	if err := configwatcher.Watch(ctx, filepath.Join(configDir, "config.yaml"), app.applyConfig); err != nil {
		logger.Log.Warn("Config hot reload disabled", zap.Error(err))
	}

	return app, nil
}

func (a *App) Run() error {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	a.Scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		a.Close(context.Background())
		return err
	}
	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}
	a.Close(ctx)

	logger.Log.Info("Server exiting")
	return nil
}

// Close 停止后台任务并释放会话；进行中的会话不会自动交卷
func (a *App) Close(ctx context.Context) {
	if a.stopWatch != nil {
		a.stopWatch()
	}
	if a.Scheduler != nil {
		a.Scheduler.Stop(ctx)
	}
	if a.Sessions != nil {
		a.Sessions.Shutdown()
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
}
