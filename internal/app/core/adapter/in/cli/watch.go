package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
)

var (
	watchFrom  uint64
	watchLimit int
)

var errWatchLimit = errors.New("watch limit reached")

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream Deposited and Withdrawn events",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().Uint64Var(&watchFrom, "from", 0, "replay events with a sequence greater than this")
	watchCmd.Flags().IntVarP(&watchLimit, "limit", "n", 0, "stop after n events (0 = until interrupted)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	seen := 0
	err := ledgerClient.Watch(cmd.Context(), watchFrom, func(e domain.Event) error {
		cmd.Printf("#%d %s %s %s at %s\n",
			e.Sequence, e.Kind, e.Account, e.Amount,
			time.Unix(0, e.CreatedAt).Format(time.RFC3339Nano))
		seen++
		if watchLimit > 0 && seen >= watchLimit {
			return errWatchLimit
		}
		return nil
	})
	if errors.Is(err, errWatchLimit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
