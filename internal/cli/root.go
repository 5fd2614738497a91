// Package cli implements the talpay command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tutu-network/talpay/internal/app/payout"
	"github.com/tutu-network/talpay/internal/app/payroll"
	"github.com/tutu-network/talpay/internal/daemon"
	"github.com/tutu-network/talpay/internal/infra/sqlite"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "talpay",
	Short: "Escrow-backed payroll settlement engine",
	Long: `TalPay holds payroll funds in escrow contracts, releases them to
employees once enough admins approve, and keeps a two-denomination ledger
with a full audit trail. Run 'talpay serve' to start the HTTP API.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $TALPAY_HOME/config.toml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (daemon.Config, error) {
	path := configPath
	if path == "" {
		path = daemon.ConfigPath()
	}
	return daemon.LoadConfig(path)
}

// openService opens the store directly for offline queries. It never
// seeds admins; only the daemon does that.
func openService(ctx context.Context, cfg daemon.Config) (*payroll.Service, func(), error) {
	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	svc, err := payroll.Open(ctx, payroll.Config{
		DefaultRate: cfg.Ledger.DefaultRate,
		SplitPolicy: payout.SplitPolicy(cfg.Payroll.SplitPolicy),
	}, db, nil)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return svc, func() { db.Close() }, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
