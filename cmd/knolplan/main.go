package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/conorfennell/knolplan/internal/config"
	"github.com/conorfennell/knolplan/internal/logger"
	"github.com/conorfennell/knolplan/internal/performance"
	"github.com/conorfennell/knolplan/internal/planner"
	"github.com/conorfennell/knolplan/internal/rebalance"
	"github.com/conorfennell/knolplan/internal/storage"
	"github.com/conorfennell/knolplan/internal/study"
	"github.com/conorfennell/knolplan/internal/sync"
	"github.com/conorfennell/knolplan/internal/web"
)

const usage = `Usage: knolplan [flags] [command]

Commands:
  serve              serve the JSON API (default)
  sync               import every deck source once
  add-source <path>  register a local directory or git URL
  sources            list deck sources
  rebalance          regenerate the future of every assessment

Flags:
`

func main() {
	fs := pflag.NewFlagSet("knolplan", pflag.ExitOnError)
	config.RegisterFlags(fs)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, fs.Args()); err != nil {
		log.Error("knolplan failed", "error", err)
		stop()
		log.Sync()
		os.Exit(1)
	}
}

type app struct {
	db     *storage.DB
	svc    *study.Service
	syncer *sync.Syncer
}

func wire(cfg config.Config, log *logger.Logger) (*app, error) {
	db, err := storage.Open(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	log.Info("database opened", "path", cfg.DB.Path)

	memory := cfg.Memory
	aggregator := performance.New(cfg.Performance)
	rb := rebalance.New(rebalance.Deps{
		Assessments: db,
		Decks:       db,
		Practice:    db,
		Plans:       db,
		Allocator:   planner.New(cfg.Planner),
		Aggregator:  aggregator,
		Log:         log,
	})
	svc := study.New(study.Deps{
		Cards:       db,
		Decks:       db,
		Assessments: db,
		Practice:    db,
		Plans:       db,
		Memory:      &memory,
		Aggregator:  aggregator,
		Rebalancer:  rb,
		Log:         log,
	})
	syncer := sync.New(db, cfg.Repos.Dir, log, sync.OnChange(svc.RebalanceAll))
	return &app{db: db, svc: svc, syncer: syncer}, nil
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger, args []string) error {
	a, err := wire(cfg, log)
	if err != nil {
		return err
	}
	defer a.db.Close()

	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
	}
	switch cmd {
	case "serve":
		return serve(ctx, cfg, log, a)
	case "sync":
		report, err := a.syncer.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Synced %d sources: %d decks, %d cards added, %d deleted, %d errors.\n",
			report.Sources, report.Decks, report.CardsAdded, report.CardsDeleted, len(report.Errors))
		for _, e := range report.Errors {
			fmt.Printf("- %s\n", e)
		}
		return nil
	case "add-source":
		if len(args) != 2 {
			return errors.New("add-source takes exactly one path or URL")
		}
		src, err := a.syncer.AddSource(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Added %s source %d: %s\n", src.Type, src.ID, src.Path)
		return nil
	case "sources":
		sources, err := a.syncer.Sources(ctx)
		if err != nil {
			return err
		}
		for _, s := range sources {
			scanned := "never"
			if s.LastScanned.Valid {
				scanned = s.LastScanned.Time.Format(time.RFC3339)
			}
			fmt.Printf("%d\t%s\t%s\t%s\n", s.ID, s.Type, s.Path, scanned)
		}
		return nil
	case "rebalance":
		return a.svc.RebalanceAll(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func serve(ctx context.Context, cfg config.Config, log *logger.Logger, a *app) error {
	if cfg.Log.Mode == "prod" || cfg.Log.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           web.NewServer(a.svc, a.syncer, log, cfg.HTTP.CORSOrigins...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
