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

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bridge transfer counts and in-flight records",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
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

	rows, err := db.QueryContext(ctx,
		"SELECT state, COUNT(*) FROM bridge_transfers GROUP BY state ORDER BY state")
	if err != nil {
		slog.Error("Failed to query transfers", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATE\tCOUNT")
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\n", state, count)
	}
	_ = rows.Close()
	_ = w.Flush()

	inflight, err := db.QueryContext(ctx, `
		SELECT id, source_chain, dest_chain, amount, state, attempts, updated_at
		FROM bridge_transfers
		WHERE state NOT IN ('destination_released', 'failed')
		ORDER BY updated_at
		LIMIT 20`)
	if err != nil {
		slog.Error("Failed to query in-flight transfers", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = inflight.Close()
	}()

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tDEST\tAMOUNT\tSTATE\tATTEMPTS\tUPDATED")
	for inflight.Next() {
		var id, source, dest, amount, state string
		var attempts uint64
		var updatedAt time.Time
		if err := inflight.Scan(&id, &source, &dest, &amount, &state, &attempts, &updatedAt); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			id, source, dest, amount, state, attempts, updatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
