package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsbatch "github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"granule-reprocessing/internal/batch"
	"granule-reprocessing/internal/config"
	"granule-reprocessing/internal/queue"
	"granule-reprocessing/internal/requeuer"
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

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		log.WithError(err).Fatal("load aws config")
	}
	backend := batch.NewClient(awsbatch.NewFromConfig(awsCfg), cfg.BatchQueue, cfg.BatchJobDefinition, cfg.OutputBucket)
	q := queue.New(sqs.NewFromConfig(awsCfg))

	r := requeuer.New(cfg, backend, q, log)

	go func() {
		if err := http.ListenAndServe(cfg.AdminAddr, telemetry.AdminRouter()); err != nil {
			log.WithError(err).Error("admin server stopped")
		}
	}()

	log.WithField("queue_url", cfg.RetryQueueURL).Info("requeuer started")
	if err := r.Run(ctx, cfg.PollInterval); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("requeuer stopped")
		return
	}
	log.Info("requeuer stopped")
}
