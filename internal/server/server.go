package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator"
	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomid "github.com/labstack/echo/v4/middleware"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/graphfuse/backend/internal/queue"
	mid "github.com/graphfuse/backend/internal/server/middleware"
	"github.com/graphfuse/backend/internal/util"
	"github.com/graphfuse/backend/pkg/ai"
	oai "github.com/graphfuse/backend/pkg/ai/ollama"
	gai "github.com/graphfuse/backend/pkg/ai/openai"
	"github.com/graphfuse/backend/pkg/logger"
	"github.com/graphfuse/backend/pkg/query"
	"github.com/graphfuse/backend/pkg/resolve"
	"github.com/graphfuse/backend/pkg/session"
	graphstorage "github.com/graphfuse/backend/pkg/store/pgx"
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

// RunMigrations applies pending schema migrations before the server
// accepts traffic.
func RunMigrations(databaseURL string) error {
	source := util.GetEnvString("MIGRATIONS_PATH", "file://sql/migrations")
	m, err := migrate.New(source, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// NewAIClient selects the model backend from the environment. The
// default is the OpenAI-compatible client; AI_ADAPTER=ollama switches
// to a local Ollama instance.
func NewAIClient() ai.Client {
	adapter := util.GetEnv("AI_ADAPTER")

	switch adapter {
	case "ollama":
		client, err := oai.NewClient(oai.NewClientParams{
			CompletionModel: util.GetEnv("AI_CHAT_MODEL"),
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			APIKey:  util.GetEnv("AI_CHAT_KEY"),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		return client
	default:
		return gai.NewClient(gai.NewClientParams{
			CompletionModel: util.GetEnv("AI_CHAT_MODEL"),
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),

			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
		})
	}
}

// NewSessionStore picks the session cache backend: Redis when
// REDIS_ADDR is set, otherwise in-process memory.
func NewSessionStore() session.Store {
	cfg := session.ConfigFromEnv()
	if addr := util.GetEnvString("REDIS_ADDR", ""); addr != "" {
		store, err := session.NewRedisStore(addr, cfg)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", "err", err)
		}
		return store
	}
	return session.NewMemoryStore(cfg)
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databaseURL := util.GetEnv("DATABASE_URL")
	if err := RunMigrations(databaseURL); err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}

	conn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()
	conn.Config().AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to setup queues", "err", err)
	}

	graphStore := graphstorage.NewGraphDBStorage(conn)
	aiClient := NewAIClient()
	sessions := NewSessionStore()
	resolver := resolve.NewResolver(graphStore, aiClient, resolve.ConfigFromEnv())

	orchestrator := query.NewOrchestrator(
		graphStore,
		aiClient,
		query.WithConfig(query.ConfigFromEnv()),
		query.WithSessionStore(sessions),
	)

	app := &mid.App{
		DBConn:       conn,
		Queue:        ch,
		Store:        graphStore,
		Orchestrator: orchestrator,
		Resolver:     resolver,
		Sessions:     sessions,
		APIKey:       util.GetEnvString("API_KEY", ""),
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(echomid.CORS())
	e.Use(echomid.Logger())
	e.Use(echomid.Recover())
	e.Use(echomid.BodyLimit("32M"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnvString("PORT", "8080")
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
