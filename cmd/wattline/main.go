// Wattline Core - Energy Monitor Upload Service
//
// This is the main entry point for the Wattline Core service. It owns
// the local measurement datalog and uploads it to one or more remote
// time-series stores (PostgREST, InfluxDB), resuming correctly after
// restarts and publishing uploader status over MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wattline/wattline-core/internal/datalog"
	"github.com/wattline/wattline-core/internal/infrastructure/config"
	"github.com/wattline/wattline-core/internal/infrastructure/database"
	"github.com/wattline/wattline-core/internal/infrastructure/logging"
	"github.com/wattline/wattline-core/internal/measure"
	"github.com/wattline/wattline-core/internal/status"
	"github.com/wattline/wattline-core/internal/transport"
	"github.com/wattline/wattline-core/internal/upload"
	"github.com/wattline/wattline-core/internal/upload/influx"
	"github.com/wattline/wattline-core/internal/upload/postgrest"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// pruneCheckInterval is how often the retention pruner wakes up.
const pruneCheckInterval = time.Hour

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Wattline Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Ensure the datalog schema exists
	if bootErr := db.Bootstrap(ctx); bootErr != nil {
		return fmt.Errorf("bootstrapping schema: %w", bootErr)
	}

	// Open the datalog store
	store, err := datalog.Open(ctx, db.DB, datalog.Config{Interval: cfg.Datalog.Interval})
	if err != nil {
		return fmt.Errorf("opening datalog: %w", err)
	}
	log.Info("datalog opened",
		"interval", cfg.Datalog.Interval,
		"first_key", store.FirstKey(),
		"last_key", store.LastKey(),
	)

	// Build the measurement collection
	measurements, err := buildMeasurements(cfg.Measurements)
	if err != nil {
		return fmt.Errorf("building measurements: %w", err)
	}
	measure.Sort(measurements)
	measure.Validate(measurements, log)
	log.Info("measurements configured", "count", len(measurements))

	// Connect to MQTT broker for status publishing (optional)
	var sink upload.StatusSink
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := status.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		sink = status.NewPublisher(mqttClient, log).Sink()
	} else {
		log.Info("MQTT status publishing disabled")
	}

	// Assemble the enabled upload backends
	var uploaders []upload.Uploader

	if cfg.Uploaders.PostgREST.Enabled {
		pg := cfg.Uploaders.PostgREST
		client := transport.New(pg.URL, 0)
		scheduler := postgrest.NewScheduler(postgrest.Config{
			Table:       pg.Table,
			Schema:      pg.Schema,
			DeviceName:  upload.ResolveDeviceName(pg.DeviceName, cfg.Device.Name),
			JWTToken:    pg.JWTToken,
			Interval:    int64(pg.Interval),
			BulkSend:    int64(pg.BulkSend),
			BufferLimit: pg.BufferLimit,
			StartDate:   config.StartDateEpoch(pg.StartDate),
		}, store, measurements, postgrest.NewHTTPTransport(client), nil, nil, log)
		uploaders = append(uploaders, scheduler)
		log.Info("PostgREST uploader enabled", "url", pg.URL, "table", pg.Table)
	} else {
		log.Info("PostgREST uploader disabled")
	}

	if cfg.Uploaders.InfluxDB.Enabled {
		ifx := cfg.Uploaders.InfluxDB
		influxClient, ifxErr := influx.Connect(ifx)
		if ifxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", ifxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected", "url", ifx.URL, "org", ifx.Org, "bucket", ifx.Bucket)

		exporter := influx.NewExporter(influx.Config{
			DeviceName: cfg.Device.Name,
			Interval:   int64(ifx.Interval),
			BulkSend:   int64(ifx.BulkSend),
			StartDate:  config.StartDateEpoch(ifx.StartDate),
		}, store, measurements, influxClient, log)
		influxClient.SetOnError(exporter.RecordWriteError)
		uploaders = append(uploaders, exporter)
	} else {
		log.Info("InfluxDB uploader disabled")
	}

	// Drive each uploader's tick loop
	var wg sync.WaitGroup
	for _, u := range uploaders {
		wg.Add(1)
		go func(u upload.Uploader) {
			defer wg.Done()
			upload.Run(ctx, u, sink)
		}(u)
	}

	// Retention pruning
	if cfg.Datalog.RetentionDays > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runPruner(ctx, store, cfg.Datalog.RetentionDays, log)
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal, then for the loops to drain
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	wg.Wait()

	// Deferred Close() calls will run in reverse order:
	// 1. InfluxDB (if enabled)
	// 2. MQTT (if enabled)
	// 3. Database

	log.Info("Wattline Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses WATTLINE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WATTLINE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildMeasurements converts configured measurement declarations into
// ChannelRate instances.
//
// Parameters:
//   - cfgs: Measurement declarations from config.yaml
//
// Returns:
//   - []measure.Measurement: One ChannelRate per declaration
//   - error: If a declaration names an unknown unit
func buildMeasurements(cfgs []config.MeasurementConfig) ([]measure.Measurement, error) {
	measurements := make([]measure.Measurement, 0, len(cfgs))
	for _, mc := range cfgs {
		unit, ok := measure.ParseUnit(mc.Unit)
		if !ok {
			return nil, fmt.Errorf("measurement %q: unknown unit %q", mc.Sensor, mc.Unit)
		}
		measurements = append(measurements,
			measure.NewChannelRate(mc.Sensor, unit, mc.Precision, mc.Channel, mc.Scale))
	}
	return measurements, nil
}

// runPruner deletes datalog records older than the retention window.
//
// It wakes hourly; the store itself guarantees the most recent record is
// never pruned.
func runPruner(ctx context.Context, store *datalog.Store, retentionDays int, log *logging.Logger) {
	ticker := time.NewTicker(pruneCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour).Unix()
			pruned, err := store.Prune(ctx, cutoff)
			if err != nil {
				log.Error("pruning datalog", "error", err)
				continue
			}
			if pruned > 0 {
				log.Info("datalog pruned", "records", pruned, "before", cutoff)
			}
		}
	}
}
