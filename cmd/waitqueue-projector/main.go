// Command waitqueue-projector runs the waiting-queue projection (C7/C8) as a
// standalone service: rebuild from the event log on startup, then poll for
// newly appended events and fold them into the read views.
//
// Grounded on the teacher's examples/cmd/sqlite-projection's rebuild/replay
// demo shape, generalized to this core's offset-based ReadAll polling
// instead of the teacher's envelope-by-envelope Handle calls.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	checkpointsqlite "github.com/kestrelhealth/waitqueue/pkg/checkpoint/sqlite"
	"github.com/kestrelhealth/waitqueue/pkg/clock"
	"github.com/kestrelhealth/waitqueue/pkg/eventcodec"
	eventlogsqlite "github.com/kestrelhealth/waitqueue/pkg/eventlog/sqlite"
	"github.com/kestrelhealth/waitqueue/pkg/observability"
	"github.com/kestrelhealth/waitqueue/pkg/projection"
	"github.com/kestrelhealth/waitqueue/pkg/projection/projctx"
	"github.com/kestrelhealth/waitqueue/pkg/projection/queueviews"
	"github.com/kestrelhealth/waitqueue/pkg/runner"
)

const projectionID = "queueviews"

func main() {
	dsn := flag.String("dsn", "waitqueue.db", "event log SQLite DSN")
	obsDSN := flag.String("observability-dsn", "waitqueue-observability.db", "traces/metrics SQLite DSN")
	traceSampleRate := flag.Float64("trace-sample-rate", 1.0, "fraction of spans recorded (0.0-1.0)")
	pollInterval := flag.Duration("poll-interval", 2*time.Second, "polling interval for new events")
	batchSize := flag.Int("batch-size", 500, "events read per poll")
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
		ServiceName:     "waitqueue-projector",
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

	codec := eventcodec.NewRegistry()
	queueviews.RegisterEvents(codec)

	// Durable checkpoints live in the same database file as the event log so
	// an operator can see where this projection last got to (e.g. via the
	// sqlite3 CLI) without restarting the process to force a rebuild.
	durableCheckpoints, err := checkpointsqlite.New(eventLog.DB())
	if err != nil {
		log.Error("open durable checkpoint store", "error", err)
		os.Exit(1)
	}

	pctx := projctx.New()
	engine := projection.New(projectionID, eventLog, pctx, queueviews.Handlers(projectionID, codec),
		projection.WithLogger(rlog),
		projection.WithTelemetry(tel),
		projection.WithDurableCheckpoints(durableCheckpoints, clock.System{}),
	)

	log.Info("rebuilding projection from event log")
	if err := engine.Rebuild(ctx); err != nil {
		log.Error("rebuild failed", "error", err)
		os.Exit(1)
	}

	svc := newPollerService(eventLog, engine, rlog, *pollInterval, *batchSize)

	r := runner.New(
		[]runner.Service{svc},
		runner.WithLogger(rlog),
		runner.WithShutdownTimeout(15*time.Second),
		runner.WithStartupTimeout(30*time.Second),
	)

	if err := r.Run(ctx); err != nil {
		log.Error("projector exited with error", "error", err)
		os.Exit(1)
	}
}
