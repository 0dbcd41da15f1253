package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/adapter/in/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
