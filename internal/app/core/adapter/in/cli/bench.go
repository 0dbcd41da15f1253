package cli

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
)

var (
	benchCount       int
	benchConcurrency int
	benchAmount      string
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Fire concurrent deposits and report throughput",
	Long: `Sends --count deposits of --amount with --concurrency in flight, each with a fresh reference id.
Rejections (for example once the bank cap is reached) are counted, not fatal.`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().IntVarP(&benchCount, "count", "n", 10000, "number of deposits")
	benchCmd.Flags().IntVarP(&benchConcurrency, "concurrency", "c", 100, "requests in flight")
	benchCmd.Flags().StringVar(&benchAmount, "amount", "0.0001", "amount per deposit")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, _ []string) error {
	if _, err := requireCaller(); err != nil {
		return err
	}
	amount, err := domain.ParseQuantity(benchAmount)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	if benchCount <= 0 || benchConcurrency <= 0 {
		return fmt.Errorf("count and concurrency must be positive")
	}

	ctx := cmd.Context()
	var ok, failed atomic.Int64
	var wg sync.WaitGroup
	sem := make(chan struct{}, benchConcurrency)

	start := time.Now()
	for i := 0; i < benchCount; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := ledgerClient.Deposit(ctx, uuid.New(), amount); err != nil {
				failed.Add(1)
				return
			}
			ok.Add(1)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	cmd.Printf("Completed %d requests in %v (%d ok, %d rejected)\n", benchCount, elapsed, ok.Load(), failed.Load())
	cmd.Printf("TPS: %.2f\n", float64(benchCount)/elapsed.Seconds())
	return nil
}
