package middleware

import (
	"github.com/OFFIS-RIT/medgraph/backend/pkg/query"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// App holds the dependencies shared by all handlers. DBConn is nil when the
// server runs without PostgreSQL.
type App struct {
	DBConn *pgxpool.Pool
	Store  store.GraphStorage
	Query  *query.Orchestrator
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
