package main

import (
	"log"
	"time"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"pricelab/internal/allocation"
	"pricelab/internal/config"
	"pricelab/internal/db"
	"pricelab/internal/experiment"
	"pricelab/internal/http/handlers"
	appmw "pricelab/internal/http/middleware"
	"pricelab/internal/metrics"
	"pricelab/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	var (
		sqlDB         *gorm.DB
		experimentsSt experiment.Store
		overridesSt   allocation.OverrideStore
		eventsSt      metrics.EventStore
	)
	if cfg.DatabaseURL != "" {
		var err error
		sqlDB, err = db.Connect(cfg)
		if err != nil {
			log.Fatalf("failed to connect database: %v", err)
		}

		if err := db.EnsureBootstrapAdmin(sqlDB, cfg); err != nil {
			log.Fatalf("failed to ensure bootstrap admin: %v", err)
		}
		if cfg.APIKey != "" {
			if err := db.EnsureBootstrapAPIKey(sqlDB, cfg); err != nil {
				log.Printf("warning: failed to ensure bootstrap API key: %v", err)
			}
		}

		experimentsSt = db.NewExperimentStore(sqlDB)
		overridesSt = db.NewOverrideStore(sqlDB)
		eventsSt = db.NewEventStore(sqlDB)
		db.StartRollupWorker(sqlDB)
	} else {
		log.Printf("no APP_DATABASE_URL set, running on in-memory stores (no durability)")
		experimentsSt = store.NewMemoryExperiments()
		overridesSt = store.NewMemoryOverrides()
		eventsSt = store.NewMemoryEvents()
	}

	experiments := experiment.NewService(experimentsSt)
	allocator := allocation.NewAllocator(cfg.AllocationSalt, overridesSt)
	collector := metrics.NewCollector(eventsSt)

	experiments.StartExpiryWorker(time.Hour)

	handlers.InitPrometheusMetrics()

	r := router.New()

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	auth := appmw.BearerAuth(sqlDB, cfg.APIKey)

	r.POST("/v1/experiments", auth(handlers.CreateExperiment(experiments)))
	r.GET("/v1/experiments", handlers.ListActiveExperiments(experiments))
	r.GET("/v1/experiments/{id}", handlers.GetExperiment(experiments))
	r.POST("/v1/experiments/{id}/activate", auth(handlers.ActivateExperiment(experiments)))
	r.POST("/v1/experiments/{id}/pause", auth(handlers.PauseExperiment(experiments)))
	r.POST("/v1/experiments/{id}/complete", auth(handlers.CompleteExperiment(experiments)))

	r.POST("/v1/allocate", handlers.Allocate(experiments, allocator))
	r.POST("/v1/overrides", auth(handlers.SetOverride(allocator)))
	r.DELETE("/v1/overrides", auth(handlers.ClearOverrides(allocator)))

	r.POST("/v1/events", auth(handlers.IngestHandler(collector)))
	r.GET("/v1/experiments/{id}/events", auth(handlers.UserEvents(collector)))

	r.GET("/v1/experiments/{id}/metrics", handlers.ExperimentMetricsHandler(experiments, collector))
	if sqlDB != nil {
		r.GET("/v1/experiments/{id}/rollups", handlers.RollupSeries(experiments, func(id string, cutoff time.Time) ([]db.VariantBucket, error) {
			return db.BucketsSince(sqlDB, id, cutoff)
		}))
	}
	r.GET("/v1/experiments/{id}/analysis", handlers.AnalysisHandler(experiments, collector, cfg.SignificanceThreshold))
	r.GET("/v1/experiments/{id}/distribution", handlers.Distribution(experiments, allocator))

	r.GET("/metrics", handlers.PrometheusHandler())

	handler := handlers.RequestLogger(r.Handler)

	log.Printf("pricelab listening on %s", cfg.ListenAddr)
	if err := fasthttp.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
