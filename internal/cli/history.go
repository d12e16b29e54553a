package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/apex/internal/core/config"
	"github.com/vietddude/apex/internal/infra/storage/postgres"
)

var historyCmd = &cobra.Command{
	Use:   "transfer-history [transfer_id]",
	Short: "Show the full transition log for a transfer",
	Args:  cobra.ExactArgs(1),
	Run:   runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) {
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

	transitions, err := postgres.NewHistoryRepo(db).ListByTransfer(ctx, transferID)
	if err != nil {
		slog.Error("Failed to load history", "error", err)
		os.Exit(1)
	}
	if len(transitions) == 0 {
		fmt.Printf("No transitions recorded for %s\n", transferID)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "FROM\tTO\tAT\tNOTE")
	for _, tr := range transitions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			tr.From, tr.To, tr.At.Format(time.RFC3339), tr.Note)
	}
	_ = w.Flush()
}
