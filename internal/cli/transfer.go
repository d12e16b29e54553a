package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/vietddude/apex/internal/builder"
	"github.com/vietddude/apex/internal/control"
	"github.com/vietddude/apex/internal/core/config"
	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/infra/rpc"
)

var (
	transferSource string
	transferDest   string
	transferFrom   string
	transferTo     string
	transferAmount string
	transferWait   bool
)

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Build, sign and submit a transfer intent",
	Long: `Runs one transfer end to end through a full service instance: the
source account must have a signing key in the config. Same-ecosystem
intents are submitted directly; cross-ecosystem intents go through the
bridge and the printed transfer ID can be tracked with transfer-history.`,
	Run: runTransfer,
}

func init() {
	transferCmd.Flags().StringVar(&transferSource, "source", "", "source chain ID")
	transferCmd.Flags().StringVar(&transferDest, "dest", "", "destination chain ID (defaults to the source chain)")
	transferCmd.Flags().StringVar(&transferFrom, "from", "", "sender address")
	transferCmd.Flags().StringVar(&transferTo, "to", "", "recipient address")
	transferCmd.Flags().StringVar(&transferAmount, "amount", "", "amount in base units")
	transferCmd.Flags().BoolVar(&transferWait, "wait", false, "wait for source-chain confirmation (direct transfers)")
	_ = transferCmd.MarkFlagRequired("source")
	_ = transferCmd.MarkFlagRequired("from")
	_ = transferCmd.MarkFlagRequired("to")
	_ = transferCmd.MarkFlagRequired("amount")
	rootCmd.AddCommand(transferCmd)
}

func runTransfer(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	intent, err := buildIntent(cfg)
	if err != nil {
		slog.Error("Invalid transfer", "error", err)
		os.Exit(1)
	}

	// Ephemeral health port so a running daemon is never disturbed.
	app, err := control.NewService(control.Config{
		Port:      0,
		Chains:    cfg.Chains,
		Fees:      cfg.Fees,
		Bridge:    cfg.Bridge,
		Signing:   cfg.Signing,
		Cache:     cfg.Cache,
		Budget:    rpc.BudgetConfig{DailyQuota: cfg.Budget.DailyQuota},
		Retention: cfg.Retention,
		Redis:     cfg.Redis,
		Database:  cfg.Database,
	})
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start service", "error", err)
		os.Exit(1)
	}
	defer func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	}()

	var policy *domain.ConfirmPolicy
	if transferWait {
		p := confirmPolicyFor(cfg.Chains, intent.Source.Chain)
		policy = &p
	}

	result, err := app.Builder().Execute(ctx, intent, policy)
	if result == nil {
		slog.Error("Transfer failed", "error", err)
		os.Exit(1)
	}
	printResult(result)
	if err != nil {
		slog.Error("Transfer did not complete", "error", err)
		os.Exit(1)
	}
}

func buildIntent(cfg *config.AppConfig) (*domain.TransactionIntent, error) {
	sourceChain := domain.ChainID(transferSource)
	destChain := sourceChain
	if transferDest != "" {
		destChain = domain.ChainID(transferDest)
	}

	from, err := domain.ParseAddressFor(transferFrom, domain.EcosystemOf(sourceChain))
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	to, err := domain.ParseAddressFor(transferTo, domain.EcosystemOf(destChain))
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	amount, ok := new(big.Int).SetString(transferAmount, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a decimal amount", transferAmount)
	}

	return &domain.TransactionIntent{
		Source:      domain.NewAccount(from, sourceChain),
		Destination: domain.NewAccount(to, destChain),
		Amount:      amount,
	}, nil
}

// confirmPolicyFor mirrors the service's per-chain policy overlay.
func confirmPolicyFor(chains []config.ChainConfig, chainID domain.ChainID) domain.ConfirmPolicy {
	policy := domain.DefaultConfirmPolicy(chainID)
	for _, c := range chains {
		if c.ChainID != chainID {
			continue
		}
		if c.FinalityDepth > 0 {
			policy.Depth = c.FinalityDepth
		}
		if c.ConfirmTimeout > 0 {
			policy.Timeout = c.ConfirmTimeout
		}
		if c.PollInterval > 0 {
			policy.PollInterval = c.PollInterval
		}
	}
	return policy
}

func printResult(result *builder.Result) {
	switch result.Route {
	case builder.RouteBridge:
		fmt.Printf("Transfer %s routed through the bridge\n", result.TransferID)
		if result.SourceTxHash != "" {
			fmt.Printf("  source tx: %s\n", result.SourceTxHash)
		}
		if result.DestTxHash != "" {
			fmt.Printf("  dest tx:   %s\n", result.DestTxHash)
		}
		fmt.Printf("  status:    %s\n", result.Status)
	default:
		fmt.Printf("Submitted %s\n", result.SourceTxHash)
		fmt.Printf("  status: %s\n", result.Status)
		if result.Receipt != nil {
			fmt.Printf("  block:  #%d %s\n", result.Receipt.BlockNumber, result.Receipt.BlockHash)
		}
	}
}
