package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/KyberNetwork/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger.WithFields(logger.Fields{
			"error": err,
		}).Error("txcart failed")
		stop()
		os.Exit(1)
	}
}
