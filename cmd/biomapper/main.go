// Command biomapper runs the strategy execution engine: it loads strategy
// YAML files from a configured directory, connects to Postgres (falling
// back to an in-memory job store for local/dev runs without DB_PASSWORD
// set), starts the job manager's worker pool, and serves the HTTP API
// surface — mirroring cmd/tarsy/main.go's config-then-database-then-
// services-then-router wiring order.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/gin-gonic/gin"

	_ "github.com/arpanauts/biomapper-sub014/pkg/actions"
	_ "github.com/arpanauts/biomapper-sub014/pkg/actions/mapping"
	"github.com/arpanauts/biomapper-sub014/pkg/api"
	"github.com/arpanauts/biomapper-sub014/pkg/checkpoint"
	"github.com/arpanauts/biomapper-sub014/pkg/database"
	"github.com/arpanauts/biomapper-sub014/pkg/executor"
	"github.com/arpanauts/biomapper-sub014/pkg/job"
	"github.com/arpanauts/biomapper-sub014/pkg/registry"
	"github.com/arpanauts/biomapper-sub014/pkg/strategy"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	strategiesDir := flag.String("strategies-dir", getEnv("STRATEGIES_DIR", "./strategies"), "Path to the strategy YAML directory")
	outputRoot := flag.String("output-root", getEnv("OUTPUT_ROOT", "./data/output"), "Root directory for per-job sink output files")
	checkpointDir := flag.String("checkpoint-dir", getEnv("CHECKPOINT_DIR", "./data/checkpoints"), "Root directory for step checkpoints")
	workers := flag.Int("workers", 4, "Number of job worker goroutines")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v (continuing with existing environment)", envPath, err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	ctx := context.Background()
	logger := slog.Default()

	// pkg/actions and pkg/actions/mapping self-register into
	// registry.Default via package init() (imported above for side effect
	// only); actionKnown predicate below lets the strategy loader validate
	// action_type references against that populated registry.
	actionKnown := func(t string) bool { return registry.Default.Has(t) }

	strategies, err := strategy.LoadDir(*strategiesDir, actionKnown)
	if err != nil {
		log.Fatalf("failed to load strategies from %s: %v", *strategiesDir, err)
	}
	logger.Info("loaded strategies", "count", len(strategies.Names()), "dir", *strategiesDir)

	cpStore, err := checkpoint.NewStore(*checkpointDir)
	if err != nil {
		log.Fatalf("failed to open checkpoint store: %v", err)
	}

	exec := executor.New(registry.Default, cpStore, logger)

	var store job.Store
	if os.Getenv("DB_PASSWORD") == "" {
		logger.Warn("DB_PASSWORD not set: using in-memory job store (job state does not survive a restart)")
		store = job.NewMemStore()
	} else {
		dbCfg, err := database.LoadConfigFromEnv()
		if err != nil {
			log.Fatalf("failed to load database config: %v", err)
		}
		dbClient, err := database.NewClient(ctx, dbCfg)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer dbClient.Close()
		store = database.NewJobStore(dbClient)
		logger.Info("connected to PostgreSQL job store")
	}

	mgr := job.New(strategies, store, exec, cpStore, *outputRoot, *workers, logger)
	if err := mgr.Start(ctx); err != nil {
		log.Fatalf("failed to start job manager: %v", err)
	}
	defer mgr.Stop()

	router := api.NewRouter(mgr)
	logger.Info("HTTP server listening", "port", httpPort)
	if err := router.Run(":" + httpPort); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
