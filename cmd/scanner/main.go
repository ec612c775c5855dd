package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/ballot.scanner/internal/api"
	"github.com/banshee-data/ballot.scanner/internal/config"
	"github.com/banshee-data/ballot.scanner/internal/cvr"
	"github.com/banshee-data/ballot.scanner/internal/db"
	"github.com/banshee-data/ballot.scanner/internal/election"
	"github.com/banshee-data/ballot.scanner/internal/interpret"
	"github.com/banshee-data/ballot.scanner/internal/monitoring"
	"github.com/banshee-data/ballot.scanner/internal/orchestrator"
	"github.com/banshee-data/ballot.scanner/internal/scanner"
	"github.com/banshee-data/ballot.scanner/internal/serialmux"
	"github.com/banshee-data/ballot.scanner/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to the scanner configuration JSON file")
	listen      = flag.String("listen", ":8080", "Listen address")
	devMode     = flag.Bool("dev", false, "Run in dev mode (enables debug commands)")
	dbPath      = flag.String("db-path", "", "Database path (overrides db_path in the config file)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [migrate <action>]\n\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr)
		db.PrintMigrateHelp(os.Stderr)
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath, *dbPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], cfg.GetDBPath(), os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	if flag.NArg() > 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("starting %s", version.String())
	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
	log.Print("graceful shutdown complete")
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(path, dbPathOverride string) (*config.ScannerConfig, error) {
	cfg := config.EmptyScannerConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadScannerConfig(path); err != nil {
			return nil, err
		}
	}
	if dbPathOverride != "" {
		cfg.SetDBPath(dbPathOverride)
	}
	return cfg, nil
}

// portOpener picks the scanner transport.
func portOpener(cfg *config.ScannerConfig) serialmux.PortOpener {
	if cfg.GetTransport() == config.TransportSerial {
		return serialmux.SerialOpener{Path: cfg.GetDevicePath(), Options: cfg.GetSerial()}
	}
	return serialmux.CommandOpener{Path: cfg.GetPlustekctlPath()}
}

type batchStore interface {
	CurrentBatch(ctx context.Context) (db.Batch, error)
	StartBatch(ctx context.Context, label string) (db.Batch, error)
}

// initRecorder loads the election and opens a batch for the recorder. It
// runs before the first connection to the scanner.
func initRecorder(cfg *config.ScannerConfig, store batchStore, rec *cvr.Recorder) func(context.Context) error {
	return func(ctx context.Context) error {
		if path := cfg.GetElectionPath(); path != "" {
			def, err := election.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load election: %w", err)
			}
			rec.Election = def
			monitoring.Logf("loaded election %s (%s)", def.Election.Title, def.ElectionHash)
		}

		batch, err := store.CurrentBatch(ctx)
		if errors.Is(err, db.ErrNoOpenBatch) {
			batch, err = store.StartBatch(ctx, cfg.GetBatchLabel())
		}
		if err != nil {
			return fmt.Errorf("failed to open batch: %w", err)
		}
		rec.BatchID, rec.BatchLabel = batch.ID, batch.Label
		monitoring.Logf("scanning into batch %q (%s)", batch.Label, batch.ID)
		return nil
	}
}

func run(ctx context.Context, cfg *config.ScannerConfig) error {
	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	active := serialmux.NewActiveLink()
	defer active.Close()

	recorder := &cvr.Recorder{
		Store:        database,
		ScannerID:    cfg.GetScannerID(),
		InlineImages: cfg.GetBallotImages(),
		ImageWidth:   cfg.GetBallotImageWidth(),
	}
	dwell := orchestrator.NewDwellStats(0)

	orch := orchestrator.New(orchestrator.Options{
		Connect:            scanner.Connect(portOpener(cfg), active),
		Interpreter:        &interpret.FixtureInterpreter{Dir: cfg.GetInterpreterFixturesDir()},
		Recorder:           recorder,
		Init:               initRecorder(cfg, database, recorder),
		Delays:             cfg.GetDelays(),
		AllowDebugCommands: *devMode,
		Observers: []orchestrator.Observer{
			orchestrator.TransitionLogger{Logf: monitoring.Prefixed("[orchestrator] ")},
			dwell,
		},
	})

	apiServer := api.NewServer(orch, database, dwell, *devMode)
	mux := apiServer.ServeMux()
	apiServer.AttachDebugRoutes(mux)
	active.AttachAdminRoutes(mux)
	if err := database.AttachAdminRoutes(mux); err != nil {
		return err
	}

	server := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(mux),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(gctx)
	})
	g.Go(func() error {
		log.Printf("listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		return nil
	})
	return g.Wait()
}
