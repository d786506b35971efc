// Command waitqueue-dispatcher runs the outbox dispatcher (C5) as a
// standalone background service: poll the outbox, publish pending messages
// to the broker, retry with backoff, quarantine poison messages.
//
// Grounded on the teacher's examples/cmd/runnable-embeddednats's
// runner.New/Run shape, generalized from a single demo service to the
// waitqueue pipeline's dispatcher.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kestrelhealth/waitqueue/pkg/dispatch"
	"github.com/kestrelhealth/waitqueue/pkg/dispatch/broker"
	"github.com/kestrelhealth/waitqueue/pkg/eventcodec"
	eventlogsqlite "github.com/kestrelhealth/waitqueue/pkg/eventlog/sqlite"
	"github.com/kestrelhealth/waitqueue/pkg/observability"
	outboxsqlite "github.com/kestrelhealth/waitqueue/pkg/outbox/sqlite"
	"github.com/kestrelhealth/waitqueue/pkg/projection/queueviews"
	"github.com/kestrelhealth/waitqueue/pkg/runner"
)

func main() {
	dsn := flag.String("dsn", "waitqueue.db", "event log / outbox SQLite DSN")
	obsDSN := flag.String("observability-dsn", "waitqueue-observability.db", "traces/metrics SQLite DSN")
	traceSampleRate := flag.Float64("trace-sample-rate", 1.0, "fraction of spans recorded (0.0-1.0)")
	natsURL := flag.String("nats-url", broker.DefaultNATSConfig().URL, "NATS server URL")
	pollInterval := flag.Duration("poll-interval", dispatch.DefaultConfig().PollingInterval, "outbox polling interval")
	batchSize := flag.Int("batch-size", dispatch.DefaultConfig().BatchSize, "outbox rows fetched per poll")
	flag.Parse()

	log := slog.Default()
	rlog := runner.NewSlogLogger(log)
	ctx := context.Background()

	// Traces and metrics are journaled into their own SQLite file, separate
	// from the event log, so an operator can inspect either with the
	// sqlite3 CLI without touching the write path's database.
	obsDB, err := sql.Open("sqlite", *obsDSN+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		log.Error("open observability db", "error", err)
		os.Exit(1)
	}
	defer obsDB.Close()
	obsDB.SetMaxOpenConns(1)

	exporterConfig := observability.DefaultSQLiteExporterConfig(obsDB)
	traceExporter, err := observability.NewSQLiteTraceExporter(exporterConfig)
	if err != nil {
		log.Error("create trace exporter", "error", err)
		os.Exit(1)
	}
	metricExporter, err := observability.NewSQLiteMetricExporter(exporterConfig)
	if err != nil {
		log.Error("create metric exporter", "error", err)
		os.Exit(1)
	}
	metricReader := sdkmetric.NewPeriodicReader(metricExporter,
		sdkmetric.WithInterval(5*time.Second),
		sdkmetric.WithTimeout(3*time.Second),
	)

	tel, err := observability.Init(ctx, observability.Config{
		ServiceName:     "waitqueue-dispatcher",
		ServiceVersion:  "dev",
		Environment:     "dev",
		Logger:          log,
		TraceExporter:   traceExporter,
		TraceSampleRate: *traceSampleRate,
		MetricReader:    metricReader,
	})
	if err != nil {
		log.Error("observability init failed", "error", err)
		os.Exit(1)
	}
	defer tel.Shutdown(ctx)

	eventLog, err := eventlogsqlite.New(eventlogsqlite.WithDSN(*dsn))
	if err != nil {
		log.Error("open event log", "error", err)
		os.Exit(1)
	}
	defer eventLog.Close()

	ob, err := outboxsqlite.New(eventLog.DB())
	if err != nil {
		log.Error("open outbox store", "error", err)
		os.Exit(1)
	}
	defer ob.Close()

	codec := eventcodec.NewRegistry()
	queueviews.RegisterEvents(codec)

	cfg := broker.DefaultNATSConfig()
	cfg.URL = *natsURL
	b, err := broker.NewNATSBroker(ctx, cfg)
	if err != nil {
		log.Error("connect broker", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	dispatchCfg := dispatch.DefaultConfig()
	dispatchCfg.PollingInterval = *pollInterval
	dispatchCfg.BatchSize = *batchSize

	d := dispatch.New(ob, codec, b,
		dispatch.WithLogger(rlog),
		dispatch.WithConfig(dispatchCfg),
		dispatch.WithTelemetry(tel),
	)

	r := runner.New(
		[]runner.Service{d},
		runner.WithLogger(rlog),
		runner.WithShutdownTimeout(15*time.Second),
		runner.WithStartupTimeout(30*time.Second),
	)

	if err := r.Run(ctx); err != nil {
		log.Error("dispatcher exited with error", "error", err)
		os.Exit(1)
	}
}
