package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vietddude/apex/internal/core/config"
	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/infra/storage/postgres"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage the wallet registry",
}

var walletAddCmd = &cobra.Command{
	Use:   "add [name] [scheme] [address]",
	Short: "Register a wallet address under a name",
	Args:  cobra.ExactArgs(3),
	Run:   runWalletAdd,
}

var walletListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered wallets",
	Args:  cobra.NoArgs,
	Run:   runWalletList,
}

var walletRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Remove a wallet from the registry",
	Args:  cobra.ExactArgs(1),
	Run:   runWalletRemove,
}

func init() {
	walletCmd.AddCommand(walletAddCmd)
	walletCmd.AddCommand(walletListCmd)
	walletCmd.AddCommand(walletRemoveCmd)
	rootCmd.AddCommand(walletCmd)
}

func walletRepo() (*postgres.WalletRepo, *postgres.DB) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	db, err := postgres.NewDB(context.Background(), cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	return postgres.NewWalletRepo(db), db
}

func runWalletAdd(cmd *cobra.Command, args []string) {
	name, rawScheme, rawAddr := args[0], args[1], args[2]

	// Validate before it hits the registry; a typo here would silently
	// break lookups later.
	scheme, err := domain.ParseScheme(rawScheme)
	if err != nil {
		slog.Error("Invalid scheme", "error", err)
		os.Exit(1)
	}
	addr, err := domain.ParseAddress(rawAddr)
	if err != nil {
		slog.Error("Invalid address", "error", err)
		os.Exit(1)
	}

	repo, db := walletRepo()
	defer func() {
		_ = db.Close()
	}()

	record := &domain.WalletRecord{
		Name:    name,
		Scheme:  scheme,
		Address: addr.String(),
	}
	if err := repo.Save(context.Background(), record); err != nil {
		slog.Error("Failed to save wallet", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Registered wallet %q -> %s\n", name, addr)
}

func runWalletList(cmd *cobra.Command, args []string) {
	repo, db := walletRepo()
	defer func() {
		_ = db.Close()
	}()

	wallets, err := repo.GetAll(context.Background())
	if err != nil {
		slog.Error("Failed to list wallets", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "NAME\tSCHEME\tADDRESS")
	for _, rec := range wallets {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", rec.Name, rec.Scheme, rec.Address)
	}
	_ = w.Flush()
}

func runWalletRemove(cmd *cobra.Command, args []string) {
	repo, db := walletRepo()
	defer func() {
		_ = db.Close()
	}()

	if err := repo.Delete(context.Background(), args[0]); err != nil {
		slog.Error("Failed to remove wallet", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Removed wallet %q\n", args[0])
}
