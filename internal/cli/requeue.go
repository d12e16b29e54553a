package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vietddude/apex/internal/core/config"
	"github.com/vietddude/apex/internal/infra/storage/postgres"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue-transfer [transfer_id]",
	Short: "Put a failed transfer back in front of the relay worker",
	Long: `Requeues a failed bridge transfer whose source lock was submitted.
The transfer re-enters at initiated, so the relay proves the lock
confirmed before any destination funds move.`,
	Args: cobra.ExactArgs(1),
	Run:  runRequeue,
}

var releaseClaimsCmd = &cobra.Command{
	Use:   "release-claims",
	Short: "Clear every relay lease after a fleet restart",
	Args:  cobra.NoArgs,
	Run:   runReleaseClaims,
}

func init() {
	rootCmd.AddCommand(requeueCmd)
	rootCmd.AddCommand(releaseClaimsCmd)
}

func runRequeue(cmd *cobra.Command, args []string) {
	transferID := args[0]

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	uow, err := db.NewUnitOfWork(ctx)
	if err != nil {
		slog.Error("Failed to begin transaction", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = uow.Rollback()
	}()

	if err := uow.RequeueTransfer(ctx, transferID); err != nil {
		slog.Error("Failed to requeue transfer", "error", err)
		os.Exit(1)
	}
	if err := uow.Commit(); err != nil {
		slog.Error("Failed to commit", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Transfer %s requeued; the relay worker will pick it up\n", transferID)
}

func runReleaseClaims(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	uow, err := db.NewUnitOfWork(ctx)
	if err != nil {
		slog.Error("Failed to begin transaction", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = uow.Rollback()
	}()

	n, err := uow.ReleaseAllClaims(ctx)
	if err != nil {
		slog.Error("Failed to release claims", "error", err)
		os.Exit(1)
	}
	if err := uow.Commit(); err != nil {
		slog.Error("Failed to commit", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Released %d relay claims\n", n)
}
