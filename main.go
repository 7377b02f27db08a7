package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"anomaly-report-service/config"
	"anomaly-report-service/database"
	"anomaly-report-service/export"
	"anomaly-report-service/handlers"
	"anomaly-report-service/metrics"
	"anomaly-report-service/rabbitmq"
	"anomaly-report-service/report"
	"anomaly-report-service/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info(".env file not found, using system environment variables")
	}

	cfg := config.Load()

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	st := store.New(cfg.LogsRoot)
	compiler := report.NewCompiler(st, cfg.RenderMaxWidth, cfg.RenderMaxHeight)
	client := export.NewClientWithTimeout(cfg.ExportBackendURL, cfg.ExportTimeout)

	var publisher export.EventPublisher
	if cfg.RabbitMQURL != "" {
		p, err := rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, cfg.RabbitMQRoutingKey)
		if err != nil {
			log.WithError(err).Warn("RabbitMQ unavailable, export events disabled")
		} else {
			defer p.Close()
			publisher = p
		}
	}

	orchestrator := export.NewOrchestrator(st, compiler, client, db, publisher)
	h := handlers.NewHandlers(st, orchestrator, cfg.RenderMaxWidth, cfg.RenderMaxHeight)

	metrics.Register()

	router := gin.Default()
	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v3")
	{
		api.GET("/lexicon", h.GetLexicon)
		api.GET("/analysis/:folder", h.GetAnalysis)
		api.GET("/analysis/:folder/anomalies", h.GetAnomalies)
		api.GET("/analysis/:folder/overlay/:variant", h.GetOverlay)
		api.POST("/analysis/:folder/gallery/:anomaly/:direction", h.GalleryStep)
		api.POST("/analysis/:folder/export", h.ExportHTML)
		api.POST("/analysis/:folder/export/pdf", h.ExportPDF)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Infof("Starting anomaly report service on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("Server forced to shutdown")
	}

	log.Info("Server exited")
}
