package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/driftwatch/driftwatch/internal/boot"
	"github.com/driftwatch/driftwatch/internal/queue"
	mid "github.com/driftwatch/driftwatch/internal/server/middleware"
	"github.com/driftwatch/driftwatch/internal/storage"
	"github.com/driftwatch/driftwatch/internal/util"
	"github.com/driftwatch/driftwatch/internal/warehouse"
	"github.com/driftwatch/driftwatch/pkg/logger"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	jwksUrl := util.GetEnv("AUTH_URL") + "/jwks"
	k, err := keyfunc.NewDefault([]string{jwksUrl})
	if err != nil {
		logger.Fatal("Failed to load jwks keys", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataDir := util.GetEnvString("DATA_DIR", "./data")

	s3 := storage.NewS3Client(ctx)
	remote := storage.NewSegmentStore(s3, dataDir)

	var wh *warehouse.Client
	if dbURL := util.GetEnv("DATABASE_URL"); dbURL != "" {
		conn, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", "err", err)
		}
		defer conn.Close()
		wh = warehouse.New(conn)
	} else {
		logger.Warn("DATABASE_URL not set, warehouse sync disabled")
	}

	app, err := boot.New(boot.Config{
		DataDir:      dataDir,
		RulesDir:     util.GetEnvString("RULES_DIR", "./rules"),
		Remote:       remote,
		Warehouse:    wh,
		WarmInterval: time.Duration(util.GetEnvNumeric("WARM_INTERVAL_SEC", 300)) * time.Second,
		RuleInterval: time.Duration(util.GetEnvNumeric("RULE_INTERVAL_SEC", 60)) * time.Second,
	})
	if err != nil {
		logger.Fatal("Failed to initialize engine", "err", err)
	}
	app.Start(ctx)

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to setup queues", "err", err)
	}

	masterAPIKey := util.GetEnv("MASTER_API_KEY")
	masterUserID, _ := strconv.ParseInt(util.GetEnv("MASTER_USER_ID"), 10, 64)
	masterUserRole := util.GetEnv("MASTER_USER_ROLE")

	e.Use(mid.AppContextMiddleware(app, ch, &k, masterAPIKey, masterUserID, masterUserRole))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())

	RegisterRoutes(e)

	go func() {
		port := util.GetEnv("PORT")
		if port == "" {
			port = "8080"
		}
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
