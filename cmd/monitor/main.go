package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"granule-reprocessing/internal/attemptlog"
	"granule-reprocessing/internal/blobstore"
	"granule-reprocessing/internal/config"
	"granule-reprocessing/internal/monitor"
	"granule-reprocessing/internal/queue"
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

	store, err := blobstore.New(ctx, cfg, cfg.LogsBucket)
	if err != nil {
		log.WithError(err).Fatal("init blob store")
	}
	logs := attemptlog.NewStore(store, cfg.LogsPrefix)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		log.WithError(err).Fatal("load aws config")
	}
	q := queue.New(sqs.NewFromConfig(awsCfg))

	m := monitor.New(cfg, logs, q, log)

	go func() {
		if err := http.ListenAndServe(cfg.AdminAddr, telemetry.AdminRouter()); err != nil {
			log.WithError(err).Error("admin server stopped")
		}
	}()

	log.WithField("queue_url", cfg.MonitorQueueURL).Info("monitor started")
	for ctx.Err() == nil {
		handled, err := m.Poll(ctx, cfg.MonitorQueueURL, cfg.ReceiveBatchSize, cfg.ReceiveWait)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.WithError(err).Error("polling state change events")
		}
		if handled == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(cfg.PollInterval):
			}
		}
	}
	log.Info("monitor stopped")
}
