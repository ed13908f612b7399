package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ywrsusan/pybossa/internal/api"
	"github.com/ywrsusan/pybossa/internal/app/lock"
	"github.com/ywrsusan/pybossa/internal/app/quiz"
	"github.com/ywrsusan/pybossa/internal/app/redundancy"
	"github.com/ywrsusan/pybossa/internal/app/sched"
	"github.com/ywrsusan/pybossa/internal/infra/lockstore"
	_ "github.com/ywrsusan/pybossa/internal/infra/metrics" // Register Prometheus metrics
	"github.com/ywrsusan/pybossa/internal/infra/sqlite"
)

// Daemon is the engine runtime. It wires together the system of record,
// the lock store, and the scheduling services behind the HTTP API.
type Daemon struct {
	Config Config
	DB     *sqlite.DB
	Store  lockstore.Store
	Locks  *lock.Manager
	Gate   *quiz.Gate
	Sched  *sched.Scheduler
	Engine *redundancy.Engine
	Server *api.Server

	cancel context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	db, err := sqlite.Open(engineHome())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var store lockstore.Store
	if cfg.Store.RedisAddr != "" {
		rs, err := lockstore.NewRedisStore(cfg.Store.RedisAddr, cfg.Store.RedisDB)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect lock store: %w", err)
		}
		store = rs
	} else {
		log.Printf("[daemon] no redis configured, using in-process lock store")
		store = lockstore.NewMemoryStore()
	}

	locks := lock.NewManager(store)
	gate := quiz.NewGate(db)
	scheduler := sched.NewScheduler(db, locks, gate, sched.Config{
		MaxLimit:        cfg.Scheduler.MaxLimit,
		LockProbeMargin: cfg.Scheduler.LockProbeMargin,
	})
	engine := redundancy.NewEngine(db, cfg.Redundancy.UpdateExpirationDays)

	srv := api.NewServer(db, store, locks, gate, scheduler, engine)
	if cfg.API.Metrics {
		srv.EnableMetrics()
	}

	if cfg.Node.ID == "" {
		cfg.Node.ID = uuid.NewString()
		if err := SaveConfig(cfg); err != nil {
			log.Printf("[daemon] WARNING: persist node id: %v", err)
		}
	}

	return &Daemon{
		Config: cfg,
		DB:     db,
		Store:  store,
		Locks:  locks,
		Gate:   gate,
		Sched:  scheduler,
		Engine: engine,
		Server: srv,
	}, nil
}

// Run serves the HTTP API until SIGINT/SIGTERM, then shuts down cleanly.
func (d *Daemon) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	defer cancel()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: d.Server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[daemon] node %s listening on %s", d.Config.Node.ID, addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		log.Printf("[daemon] received %s, shutting down", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[daemon] graceful shutdown failed: %v", err)
	}
	return d.Close()
}

// Stop asks a running daemon to shut down.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// Close releases the daemon's resources.
func (d *Daemon) Close() error {
	if c, ok := d.Store.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			log.Printf("[daemon] close lock store: %v", err)
		}
	}
	return d.DB.Close()
}
