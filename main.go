package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/infra/chain/evm"
	"github.com/vietddude/apex/internal/infra/rpc"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found")
	}

	INFURA_URL := os.Getenv("INFURA_URL")
	ALCHEMY_URL := os.Getenv("ALCHEMY_URL")
	if INFURA_URL == "" {
		log.Fatalf("INFURA_URL is not set")
	}
	if ALCHEMY_URL == "" {
		log.Fatalf("ALCHEMY_URL is not set")
	}

	ctx := context.Background()

	// 1. Create providers
	provider1 := rpc.NewHTTPProvider("alchemy", ALCHEMY_URL, 30*time.Second)
	provider2 := rpc.NewHTTPProvider("infura", INFURA_URL, 30*time.Second)

	// 2. Setup budget tracker
	budgetAllocation := map[domain.ChainID]float64{
		domain.ChainIDEthereum: 1.0,
	}
	budget := rpc.NewBudgetTracker(100000, budgetAllocation)

	// 3. Setup router with adaptive rotation strategy
	router := rpc.NewRouterWithStrategy(budget, rpc.RotationAdaptive)
	router.AddProvider(domain.ChainIDEthereum, provider1)
	router.AddProvider(domain.ChainIDEthereum, provider2)

	// 4. Create client with failover across both endpoints
	client := rpc.NewClient(domain.ChainIDEthereum, router, budget)

	fmt.Println("=== Testing RPC with Failover ===")
	fmt.Println()

	// 5. Make multiple calls to test rotation
	for i := 0; i < 5; i++ {
		result, err := client.CallWithFailover(ctx, "eth_blockNumber", []any{})
		if err != nil {
			log.Printf("Call %d failed: %v", i+1, err)
			continue
		}
		fmt.Printf("Call %d: Block = %s\n", i+1, result.(string))

		time.Sleep(100 * time.Millisecond)
	}

	fmt.Println()

	// 6. Read the same head through the adapter layer
	adapter, err := evm.NewEVMAdapter(domain.ChainIDEthereum, client, nil)
	if err != nil {
		log.Fatalf("Failed to create adapter: %v", err)
	}
	head, err := adapter.LatestBlock(ctx)
	if err != nil {
		log.Fatalf("Failed to fetch head: %v", err)
	}
	fmt.Printf("Adapter head: #%d %s\n", head.Number, head.Hash)

	fmt.Println()

	// 7. Show monitor stats for each provider
	fmt.Println("=== Endpoint Stats ===")
	for name, stats := range client.GetProviderStats() {
		fmt.Printf("%s:\n", name)
		fmt.Printf("  Status: %s\n", stats.Status)
		fmt.Printf("  Avg Latency: %v\n", stats.AverageLatency.Round(time.Millisecond))
		fmt.Printf("  Requests (24h): %d\n", stats.RequestsLast24Hours)
		fmt.Println()
	}

	// 8. Show budget usage
	usage := client.GetUsage()
	fmt.Printf("Total calls made: %d / %d (%.1f%%)\n",
		usage.TotalCalls, usage.DailyLimit, usage.UsagePercentage)
}
