package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SOLUCIONESSYCOM/scribe"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marcoeg/gs-redis-sink/src/app"
	"github.com/marcoeg/gs-redis-sink/src/config"
	"github.com/marcoeg/gs-redis-sink/src/observability"
)

func run() error {
	ctx := context.Background()

	// Cargar configuración de log para el servicio de métricas
	logConfig, err := config.LogCfg()
	if err != nil {
		return fmt.Errorf("load log config: %w", err)
	}

	sc, err := scribe.New(logConfig, nil, nil)
	if err != nil {
		return fmt.Errorf("create scribe: %w", err)
	}

	logger := observability.NewScribeLogger(sc)

	serverConfig, err := config.ServerCfg()
	if err != nil {
		return fmt.Errorf("load server config: %w", err)
	}

	redisCfg, err := config.RedisCfg()
	if err != nil {
		return fmt.Errorf("load redis config: %w", err)
	}

	// Crear servicio de métricas
	metricsService := observability.NewMetricsService()
	observability.NewSinkMetrics(metricsService.GetRegistry())

	// Configurar servidor HTTP con Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metricsService.GetRegistry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", serverConfig.HttpPort),
		Handler: router,
	}

	go func() {
		logger.Info(ctx, "Starting metrics server", "port", serverConfig.HttpPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "Metrics server error", err, "port", serverConfig.HttpPort)
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info(ctx, "Stopping metrics server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "Error stopping metrics server", err)
		}
	}()

	connector := app.NewConnector(logger, nil)
	defer connector.Close(ctx)

	if err := connector.Connect(ctx, redisCfg); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	// Manejar señales de terminación
	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	streamErrChan := make(chan error, 1)
	go func() {
		streamErrChan <- app.RunStream(runCtx, connector, os.Stdin, logger)
	}()

	select {
	case <-runCtx.Done():
		logger.Info(ctx, "Received termination signal")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		select {
		case err := <-streamErrChan:
			if err != nil && err != context.Canceled {
				logger.Warn(ctx, "Stream stopped with error", err)
			}
		case <-shutdownCtx.Done():
			logger.Warn(ctx, "Timeout waiting for stream to stop", nil)
		}

		return nil
	case err := <-streamErrChan:
		return err
	}
}

func main() {
	fmt.Println("Starting redis sink...")

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "redis sink error:", err)
		os.Exit(1)
	}

	fmt.Println("Redis sink stopped")
}
