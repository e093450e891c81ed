package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsbatch "github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/robfig/cron/v3"

	"granule-reprocessing/internal/batch"
	"granule-reprocessing/internal/blobstore"
	"granule-reprocessing/internal/catalog"
	"granule-reprocessing/internal/config"
	"granule-reprocessing/internal/feeder"
	"granule-reprocessing/internal/ledger"
	"granule-reprocessing/internal/telemetry"
)

func main() {
	cfg := config.Load()
	log := telemetry.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	store, err := blobstore.New(ctx, cfg, cfg.CatalogBucket)
	if err != nil {
		log.WithError(err).Fatal("init blob store")
	}
	scanner, err := catalog.NewScanner(store, cfg.CatalogPrefix, cfg.CatalogPattern)
	if err != nil {
		log.WithError(err).Fatal("init catalog scanner")
	}
	svc := ledger.NewService(store, scanner, cfg.CatalogPrefix, cfg.LedgerObjectName)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		log.WithError(err).Fatal("load aws config")
	}
	backend := batch.NewClient(awsbatch.NewFromConfig(awsCfg), cfg.BatchQueue, cfg.BatchJobDefinition, cfg.OutputBucket)

	f := feeder.New(cfg, svc, backend, log)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.FeederSchedule, func() {
		if _, err := f.Run(ctx, feeder.RunRequest{}); err != nil {
			log.WithError(err).Error("scheduled run failed")
		}
	}); err != nil {
		log.WithError(err).Fatalf("parse schedule %q", cfg.FeederSchedule)
	}
	scheduler.Start()
	defer scheduler.Stop()

	router := telemetry.AdminRouter()
	router.Mount("/feeder", f.Router())
	go func() {
		if err := http.ListenAndServe(cfg.AdminAddr, router); err != nil {
			log.WithError(err).Error("admin server stopped")
		}
	}()

	log.WithField("schedule", cfg.FeederSchedule).Info("feeder started")
	<-ctx.Done()
	log.Info("feeder stopped")
}
