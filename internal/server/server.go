package server

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"taskmanager/internal/auth"
	"taskmanager/internal/domain/errors"
	"taskmanager/internal/domain/models"
	"taskmanager/internal/metrics"
	"taskmanager/internal/ratelimit"
	"taskmanager/internal/tasks"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator"
	"github.com/prometheus/client_golang/prometheus"
)

const serviceVersion = "1.0.0"

type AccountService interface {
	Register(ctx context.Context, req models.RegisterRequest) (*auth.Session, error)
	Login(ctx context.Context, req models.LoginRequest) (*auth.Session, error)
	Me(ctx context.Context, userID string) (*models.UserSummary, error)
	Authenticate(ctx context.Context, token string) (*auth.Identity, error)
}

type TaskService interface {
	Create(ctx context.Context, ownerID string, in tasks.TaskInput) (*models.Task, error)
	List(ctx context.Context, ownerID string, filter models.TaskFilter) ([]models.Task, error)
	Get(ctx context.Context, ownerID, taskID string) (*models.Task, error)
	Update(ctx context.Context, ownerID, taskID string, patch models.TaskPatch) (*models.Task, error)
	UpdateStatus(ctx context.Context, ownerID, taskID string, status models.Status, isCompleted *bool) (*models.Task, error)
	Delete(ctx context.Context, ownerID, taskID string) (*models.Task, error)
	Stats(ctx context.Context, ownerID string) (*models.Stats, error)
	Suggest(ctx context.Context, topic string) ([]string, error)
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP layer is built from. Accounts and
// Tasks are required.
type Deps struct {
	Accounts AccountService
	Tasks    TaskService
	Health   HealthChecker
	Limiter  ratelimit.Limiter
	Metrics  metrics.Recorder
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type TaskAPI struct {
	httpSrv  *http.Server
	cfg      *Config
	accounts AccountService
	tasks    TaskService
	health   HealthChecker
	limiter  ratelimit.Limiter
	metrics  metrics.Recorder
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	validate *validator.Validate
	started  time.Time
}

func NewTaskAPI(deps Deps, cfg *Config) *TaskAPI {
	if deps.Accounts == nil || deps.Tasks == nil || cfg == nil {
		return nil
	}

	api := &TaskAPI{
		cfg:      cfg,
		accounts: deps.Accounts,
		tasks:    deps.Tasks,
		health:   deps.Health,
		limiter:  deps.Limiter,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		logger:   deps.Logger,
		validate: newValidator(),
		started:  time.Now(),
	}
	if api.logger == nil {
		api.logger = slog.Default()
	}
	if api.metrics == nil {
		api.metrics = metrics.Nop{}
	}

	api.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           api.configRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return api
}

// newValidator reports field names by their json tag.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (api *TaskAPI) Start() error {
	if api.httpSrv == nil {
		return errors.ErrInternal
	}
	api.logger.Info("server listening", slog.String("addr", api.httpSrv.Addr))
	if err := api.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (api *TaskAPI) Shutdown(ctx context.Context) error {
	if api.httpSrv == nil {
		return nil
	}
	return api.httpSrv.Shutdown(ctx)
}

func (api *TaskAPI) Handler() http.Handler {
	return api.httpSrv.Handler
}

func (api *TaskAPI) configRoutes() *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true

	router.Use(
		Recovery(api.logger),
		RequestID(),
		RequestLogger(api.logger),
		Metrics(api.metrics),
		SecurityHeaders(),
		CORS(api.cfg.CORSOrigins, api.logger),
		GzipRequestDecompress(),
		GzipResponseCompress(),
	)

	router.NoRoute(func(ctx *gin.Context) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
	})
	router.NoMethod(func(ctx *gin.Context) {
		ctx.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})

	router.GET("/", api.banner)
	router.GET("/health", api.healthCheck)
	if api.gatherer != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(api.gatherer)))
	}

	apiGroup := router.Group("/api")
	if api.limiter != nil {
		apiGroup.Use(RateLimit(api.limiter, api.logger))
	}

	authGroup := apiGroup.Group("/auth")
	{
		authGroup.POST("/register", api.register)
		authGroup.POST("/login", api.login)
		authGroup.GET("/me", api.RequireAuth(), api.me)
	}

	taskRoutes := apiGroup.Group("/tasks", api.RequireAuth())
	{
		taskRoutes.POST("/generate", api.generateTasks)
		taskRoutes.POST("", api.createTask)
		taskRoutes.GET("", api.listTasks)
		taskRoutes.GET("/stats/overview", api.getStats)
		taskRoutes.GET("/:id", api.getTask)
		taskRoutes.PUT("/:id", api.updateTask)
		taskRoutes.PATCH("/:id/status", api.updateTaskStatus)
		taskRoutes.DELETE("/:id", api.deleteTask)
	}

	return router
}
