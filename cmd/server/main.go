package main

import (
	"github.com/graphfuse/backend/internal/server"
	"github.com/graphfuse/backend/internal/util"
	"github.com/graphfuse/backend/pkg/logger"
	"github.com/graphfuse/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
