package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/talpay/internal/api"
	"github.com/tutu-network/talpay/internal/daemon"
	"github.com/tutu-network/talpay/internal/domain"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(versionCmd)

	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
}

// ─── serve ──────────────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the TalPay daemon: open storage, restore state, serve the HTTP API
and sweep for escrows past their release date. Stops on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Run(ctx)
}

// ─── token ──────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token IDENTITY",
	Short: "Issue a bearer token for an identity",
	Long:  `Sign an HS256 bearer token with the configured auth.jwt_secret. Intended for local and test callers.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set; the server is trusting the %s header instead", cfg.Auth.IdentityHeader)
	}
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl, err = time.ParseDuration(cfg.Auth.TokenTTL)
		if err != nil {
			return fmt.Errorf("auth.token_ttl: %w", err)
		}
	}
	token, err := api.IssueToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, domain.Identity(args[0]), ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// ─── stats ──────────────────────────────────────────────────────────────────

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print system stats from the local database",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, closeFn, err := openService(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return printJSON(cmd.OutOrStdout(), svc.GetSystemStats())
}

// ─── balance ────────────────────────────────────────────────────────────────

var balanceCmd = &cobra.Command{
	Use:   "balance IDENTITY",
	Short: "Print an account's balances from the local database",
	Args:  cobra.ExactArgs(1),
	RunE:  runBalance,
}

func runBalance(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, closeFn, err := openService(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return printJSON(cmd.OutOrStdout(), svc.GetTokenBalance(domain.Identity(args[0])))
}

// ─── version ────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "talpay %s\n", api.Version)
	},
}
