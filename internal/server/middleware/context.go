package middleware

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/graphfuse/backend/pkg/query"
	"github.com/graphfuse/backend/pkg/resolve"
	"github.com/graphfuse/backend/pkg/session"
	"github.com/graphfuse/backend/pkg/store"
)

// App holds the shared handles of one server process.
type App struct {
	DBConn       *pgxpool.Pool
	Queue        *amqp091.Channel
	Store        store.GraphStore
	Orchestrator *query.Orchestrator
	Resolver     *resolve.Resolver
	Sessions     session.Store
	APIKey       string
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
