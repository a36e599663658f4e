package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/medgraph/backend/internal/app"
	"github.com/OFFIS-RIT/medgraph/backend/internal/db"
	mid "github.com/OFFIS-RIT/medgraph/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/medgraph/backend/internal/util"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/query"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/retrieval"
	pgstore "github.com/OFFIS-RIT/medgraph/backend/pkg/store/pgx"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
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

// NewEcho returns an echo instance with the middleware stack and all routes
// registered against a.
func NewEcho(a *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(a))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)
	return e
}

func pprParamsFromEnv() retrieval.PPRParams {
	p := retrieval.DefaultPPRParams()
	p.TimeBudget = util.GetEnvMillis("PPR_BUDGET_MS", p.TimeBudget)
	p.MaxNodes = util.GetEnvInt("PPR_MAX_NODES", p.MaxNodes)
	p.MaxIterations = util.GetEnvInt("PPR_MAX_ITERATIONS", p.MaxIterations)
	p.ReverseWeight = util.GetEnvNumeric("PPR_REVERSE_WEIGHT", p.ReverseWeight)
	p.ForwardOnly = util.GetEnvBool("PPR_FORWARD_ONLY", false)
	return p
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if util.GetEnvBool("MIGRATE_ON_START", true) {
		err := db.Migrate(util.GetEnv("DATABASE_URL"), util.GetEnv("MIGRATIONS_PATH"))
		if err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
	}

	conn, err := app.NewPool(ctx)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	aiClient, err := app.NewAIClient()
	if err != nil {
		logger.Fatal("Failed to create AI client", "err", err)
	}
	embedder, err := app.NewEmbedder(aiClient)
	if err != nil {
		logger.Fatal("Failed to create embedder", "err", err)
	}

	graphStore := pgstore.NewGraphDBStorageWithConnection(conn)

	var tracer query.Tracer
	if util.GetEnvBool("DEBUG", false) {
		tracer = query.LogTracer{}
	}
	orchestrator := query.NewOrchestrator(
		graphStore,
		embedder,
		query.WithScorerTimeout(util.GetEnvMillis("SCORER_TIMEOUT_MS", query.DefaultScorerTimeout)),
		query.WithPPRParams(pprParamsFromEnv()),
		query.WithMaxQueryLength(util.GetEnvInt("MAX_QUERY_LENGTH", query.DefaultMaxQueryLength)),
		query.WithTracer(tracer),
	)

	e := NewEcho(&mid.App{
		DBConn: conn,
		Store:  graphStore,
		Query:  orchestrator,
	})

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
