package main

import (
	"context"
	"fmt"
	"os"

	"github.com/SOLUCIONESSYCOM/scribe"

	"github.com/marcoeg/gs-redis-sink/src/app"
	"github.com/marcoeg/gs-redis-sink/src/config"
	"github.com/marcoeg/gs-redis-sink/src/observability"
)

func run() error {
	ctx := context.Background()

	logConfig, err := config.LogCfg()
	if err != nil {
		return fmt.Errorf("load log config: %w", err)
	}

	sc, err := scribe.New(logConfig, nil, nil)
	if err != nil {
		return fmt.Errorf("create scribe: %w", err)
	}

	logger := observability.NewScribeLogger(sc)

	redisCfg, err := config.RedisCfg()
	if err != nil {
		return fmt.Errorf("load redis config: %w", err)
	}

	connector := app.NewConnector(logger, nil)
	defer connector.Close(ctx)

	if err := connector.Connect(ctx, redisCfg); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	return app.RunStream(ctx, connector, os.Stdin, logger)
}

func main() {
	fmt.Println("Starting redis sink...")

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "redis sink error:", err)
		os.Exit(1)
	}

	fmt.Println("Redis sink stopped")
}
