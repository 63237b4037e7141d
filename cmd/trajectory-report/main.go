// Command trajectory-report associates vehicle trajectories with the road
// network. It runs single or batch analyses against a PostGIS road-graph
// warehouse, persists the results locally, and serves them over HTTP.
//
// Usage:
//
//	trajectory-report [flags] migrate <up|down|version|force <n>>
//	trajectory-report [flags] analyze <trajectory_id> <wkt>
//	trajectory-report [flags] batch
//	trajectory-report [flags] serve
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/banshee-data/trajectory.report/internal/analysis"
	"github.com/banshee-data/trajectory.report/internal/api"
	"github.com/banshee-data/trajectory.report/internal/batch"
	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/db"
	"github.com/banshee-data/trajectory.report/internal/roadgraph"
	"github.com/banshee-data/trajectory.report/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to the YAML config file")
	dbFile     = flag.String("db", "", "Path to the SQLite analysis database (overrides config)")
	graphDSN   = flag.String("graph-dsn", "", "Road-graph warehouse DSN (overrides config)")
	listen     = flag.String("listen", "", "HTTP listen address (overrides config)")
	batchLimit = flag.Int("batch-limit", 0, "Cap the number of trajectories in a batch run (0 = all)")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "version":
		fmt.Println("trajectory-report", version.String())
	case "migrate":
		runMigrate(cfg, args[1:])
	case "analyze":
		if len(args) < 3 {
			log.Fatal("Usage: trajectory-report analyze <trajectory_id> <wkt>")
		}
		runAnalyze(cfg, args[1], args[2])
	case "batch":
		runBatch(cfg)
	case "serve":
		runServe(cfg)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: trajectory-report [flags] <migrate|analyze|batch|serve|version> [args]")
	flag.PrintDefaults()
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *dbFile != "" {
		cfg.Database.Path = *dbFile
	}
	if *graphDSN != "" {
		cfg.RoadGraph.DSN = *graphDSN
	}
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}
	return cfg, nil
}

func openDatabase(cfg *config.Config) *db.DB {
	database, err := db.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open analysis database: %v", err)
	}
	if err := database.MigrateUp(cfg.Database.MigrationsDir); err != nil {
		log.Fatalf("Failed to migrate analysis database: %v", err)
	}
	return database
}

func openGraph(cfg *config.Config) *roadgraph.SQLStore {
	if cfg.RoadGraph.DSN == "" {
		log.Fatal("Road graph DSN is required (set road_graph.dsn or -graph-dsn)")
	}
	graph, err := roadgraph.Open(cfg.RoadGraph.DSN, cfg.RoadGraph.Tables.TableNames(), cfg.RoadGraph.Pool.PoolConfig())
	if err != nil {
		log.Fatalf("Failed to connect to road graph: %v", err)
	}
	return graph
}

func newEngine(cfg *config.Config, graph roadgraph.Store, store analysis.Persister) *analysis.Engine {
	engine, err := analysis.NewEngine(graph, store, cfg.Analysis.Params())
	if err != nil {
		log.Fatalf("Failed to build analysis engine: %v", err)
	}
	return engine
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runMigrate(cfg *config.Config, args []string) {
	if len(args) < 1 {
		log.Fatal("Usage: trajectory-report migrate <up|down|version|force <n>>")
	}

	database, err := db.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open analysis database: %v", err)
	}
	defer database.Close()

	dir := cfg.Database.MigrationsDir
	switch args[0] {
	case "up":
		if err := database.MigrateUp(dir); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		log.Println("Migrations applied")
	case "down":
		if err := database.MigrateDown(dir); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Println("Rolled back one migration")
	case "version":
		version, dirty, err := database.MigrateVersion(dir)
		if err != nil {
			log.Fatalf("Failed to read migration version: %v", err)
		}
		log.Printf("Schema version %d (dirty=%v)", version, dirty)
	case "force":
		if len(args) < 2 {
			log.Fatal("Usage: trajectory-report migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("Invalid version %q: %v", args[1], err)
		}
		if err := database.MigrateForce(dir, version); err != nil {
			log.Fatalf("Force migration failed: %v", err)
		}
		log.Printf("Forced schema version to %d", version)
	default:
		log.Fatalf("Unknown migrate action %q", args[0])
	}
}

func runAnalyze(cfg *config.Config, trajectoryID, wkt string) {
	database := openDatabase(cfg)
	defer database.Close()
	graph := openGraph(cfg)
	defer graph.Close()
	engine := newEngine(cfg, graph, database)

	ctx, cancel := signalContext()
	defer cancel()

	res, err := engine.Analyze(ctx, trajectoryID, wkt)
	if err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}
	fmt.Println(string(out))
}

func runBatch(cfg *config.Config) {
	database := openDatabase(cfg)
	defer database.Close()
	graph := openGraph(cfg)
	defer graph.Close()
	engine := newEngine(cfg, graph, database)

	source, err := batch.NewSQLSource(graph.DB(), cfg.Batch.Table, cfg.Batch.IDColumn, cfg.Batch.GeomColumn)
	if err != nil {
		log.Fatalf("Failed to build batch source: %v", err)
	}
	source.Limit = *batchLimit

	driver, err := batch.NewDriver(engine, source, cfg.Batch.Workers())
	if err != nil {
		log.Fatalf("Failed to build batch driver: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	outcomes, err := driver.Run(ctx)
	if err != nil {
		log.Fatalf("Batch run failed: %v", err)
	}
	for _, o := range outcomes {
		if o.Err != nil {
			log.Printf("trajectory %s: FAILED: %v", o.TrajectoryID, o.Err)
			continue
		}
		suffix := ""
		if o.Degraded {
			suffix = " (degraded)"
		}
		log.Printf("trajectory %s: analysis %s%s", o.TrajectoryID, o.AnalysisID, suffix)
	}
}

func runServe(cfg *config.Config) {
	database := openDatabase(cfg)
	defer database.Close()

	// Serve-only deployments may omit the warehouse DSN; the POST endpoint
	// reports itself unavailable in that case.
	var analyzer api.Analyzer
	if cfg.RoadGraph.DSN != "" {
		graph := openGraph(cfg)
		defer graph.Close()
		analyzer = newEngine(cfg, graph, database)
	}

	server := api.NewServer(analyzer, database)
	mux := server.ServeMux()
	if cfg.Server.EnableAdmin {
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Fatalf("Failed to attach admin routes: %v", err)
		}
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: api.LoggingMiddleware(mux),
	}

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		log.Println("Shutting down")
		httpServer.Shutdown(context.Background())
	}()

	log.Printf("trajectory-report %s listening on %s", version.String(), cfg.Server.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}
}
