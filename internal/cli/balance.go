package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/apex/internal/core/config"
	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/events"
	"github.com/vietddude/apex/internal/infra/chain"
	"github.com/vietddude/apex/internal/infra/chain/evm"
	"github.com/vietddude/apex/internal/infra/chain/substrate"
	"github.com/vietddude/apex/internal/infra/rpc"
)

var balanceChain string

var balanceCmd = &cobra.Command{
	Use:   "balance [address]",
	Short: "Query an account balance on a configured chain",
	Long: `Reads the spendable balance of an address straight from the chain's
RPC providers. No storage or signing keys are touched, so this works
against any config that lists the chain.`,
	Args: cobra.ExactArgs(1),
	Run:  runBalance,
}

func init() {
	balanceCmd.Flags().StringVar(&balanceChain, "chain", "", "chain ID (defaults to the only configured chain)")
	rootCmd.AddCommand(balanceCmd)
}

func runBalance(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	chainCfg, err := pickChain(cfg.Chains, balanceChain)
	if err != nil {
		slog.Error("Failed to resolve chain", "error", err)
		os.Exit(1)
	}

	adapter, err := oneShotAdapter(chainCfg)
	if err != nil {
		slog.Error("Failed to create adapter", "error", err)
		os.Exit(1)
	}

	addr, err := adapter.ValidateAddress(args[0])
	if err != nil {
		slog.Error("Invalid address for chain", "chain", chainCfg.ChainID, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	balance, err := adapter.Balance(ctx, domain.NewAccount(addr, chainCfg.ChainID))
	if err != nil {
		slog.Error("Failed to query balance", "error", err)
		os.Exit(1)
	}

	if info, ok := domain.ChainByID(chainCfg.ChainID); ok {
		fmt.Printf("%s %s (%s base units)\n", formatUnits(balance, info.Decimals), info.Symbol, balance)
	} else {
		fmt.Printf("%s base units\n", balance)
	}
}

// pickChain resolves the --chain flag against the config, defaulting to a
// single-chain config's only entry.
func pickChain(chains []config.ChainConfig, want string) (config.ChainConfig, error) {
	if want == "" {
		if len(chains) == 1 {
			return chains[0], nil
		}
		return config.ChainConfig{}, fmt.Errorf("config lists %d chains, pass --chain", len(chains))
	}
	for _, c := range chains {
		if string(c.ChainID) == want {
			return c, nil
		}
	}
	return config.ChainConfig{}, fmt.Errorf("chain %s is not in the config", want)
}

// oneShotAdapter builds a throwaway RPC stack for a single query.
func oneShotAdapter(chainCfg config.ChainConfig) (chain.Adapter, error) {
	budget := rpc.NewBudgetTracker(10000, map[domain.ChainID]float64{chainCfg.ChainID: 1.0})
	router := rpc.NewRouter(budget)
	for _, p := range chainCfg.Providers {
		router.AddProvider(chainCfg.ChainID, rpc.NewHTTPProvider(p.Name, p.URL, 10*time.Second))
	}
	client := rpc.NewClient(chainCfg.ChainID, router, budget)

	eco := chainCfg.Ecosystem
	if eco == "" {
		eco = domain.EcosystemOf(chainCfg.ChainID)
	}
	if eco == domain.EcosystemSubstrate {
		return substrate.NewSubstrateAdapter(chainCfg.ChainID, client, events.NewBus())
	}
	return evm.NewEVMAdapter(chainCfg.ChainID, client, events.NewBus())
}

// formatUnits renders base units as a decimal token amount, trimming
// trailing fractional zeros.
func formatUnits(amount *big.Int, decimals uint8) string {
	div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).DivMod(amount, div, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}
	fracStr := frac.String()
	if pad := int(decimals) - len(fracStr); pad > 0 {
		fracStr = strings.Repeat("0", pad) + fracStr
	}
	return whole.String() + "." + strings.TrimRight(fracStr, "0")
}
