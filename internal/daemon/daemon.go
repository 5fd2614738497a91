// Package daemon wires configuration, storage, the payroll service and the
// HTTP server into one long-running process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tutu-network/talpay/internal/api"
	"github.com/tutu-network/talpay/internal/app/payout"
	"github.com/tutu-network/talpay/internal/app/payroll"
	"github.com/tutu-network/talpay/internal/infra/logger"
	"github.com/tutu-network/talpay/internal/infra/observability"
	"github.com/tutu-network/talpay/internal/infra/sqlite"
)

const shutdownGrace = 10 * time.Second

// Daemon owns every long-lived component.
type Daemon struct {
	cfg    Config
	db     *sqlite.DB
	tracer *observability.Tracer
	svc    *payroll.Service
	server *api.Server
	now    func() time.Time
}

// New opens storage, restores state and builds the HTTP server.
func New(ctx context.Context, cfg Config) (*Daemon, error) {
	if err := logger.Initialize(logger.Config{
		Debug:     cfg.Log.Debug,
		SentryDSN: cfg.Log.SentryDSN,
		Tags:      map[string]string{"service": "talpay"},
	}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	tracer := observability.NewTracer(observability.DefaultTracerConfig())
	svc, err := payroll.Open(ctx, payroll.Config{
		DefaultRate: cfg.Ledger.DefaultRate,
		SplitPolicy: payout.SplitPolicy(cfg.Payroll.SplitPolicy),
		Admins:      cfg.BootstrapAdmins(),
	}, db, tracer)
	if err != nil {
		db.Close()
		return nil, err
	}

	switch {
	case cfg.Auth.JWTSecret != "":
	case cfg.Auth.DevMode:
		logger.Warn("dev mode: no jwt secret configured, trusting identity header",
			zap.String("header", cfg.Auth.IdentityHeader))
	default:
		logger.Warn("no jwt secret configured and dev mode off, every request is anonymous")
	}
	server := api.NewServer(svc, api.Options{
		Auth: api.AuthConfig{
			JWTSecret:      cfg.Auth.JWTSecret,
			Issuer:         cfg.Auth.Issuer,
			IdentityHeader: cfg.Auth.IdentityHeader,
			DevMode:        cfg.Auth.DevMode,
		},
		RequestTimeout: parseDuration(cfg.API.RequestTimeout, 30*time.Second),
		EnableMetrics:  cfg.Metrics.Enabled,
	})

	return &Daemon{
		cfg:    cfg,
		db:     db,
		tracer: tracer,
		svc:    svc,
		server: server,
		now:    time.Now,
	}, nil
}

// Service exposes the payroll service (CLI and tests).
func (d *Daemon) Service() *payroll.Service { return d.svc }

// Handler returns the HTTP handler.
func (d *Daemon) Handler() http.Handler { return d.server.Handler() }

// Run serves HTTP and sweeps for overdue escrows until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.cfg.Addr(), err)
	}
	return d.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           d.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go d.sweep(ctx, parseDuration(d.cfg.Payroll.OverdueScanInterval, time.Minute))

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCtx(ctx, "talpay listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error(err, zap.String("component", "server"))
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// sweep publishes the overdue gauge on every tick.
func (d *Daemon) sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	d.scanOverdue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.scanOverdue(ctx)
		}
	}
}

// scanOverdue returns how many open contracts are past their release date.
func (d *Daemon) scanOverdue(ctx context.Context) int {
	overdue := d.svc.OverdueEscrows(d.now())
	observability.EscrowsOverdue.Set(float64(len(overdue)))
	for _, c := range overdue {
		logger.WarnCtx(ctx, "escrow past release date",
			zap.String("escrow", c.ID),
			zap.String("status", string(c.Status)),
			zap.Int64("funded", c.FundedAmount),
			zap.Int64("total", c.TotalAmount),
			zap.Int("approvals", len(c.Approvals)),
		)
	}
	if id, at, ok := d.svc.NextEscrowRelease(); ok {
		logger.DebugCtx(ctx, "next escrow release", zap.String("escrow", id), zap.Time("at", at))
	}
	return len(overdue)
}

// Close flushes the logger and closes storage.
func (d *Daemon) Close() error {
	logger.Flush(2 * time.Second)
	return d.db.Close()
}
