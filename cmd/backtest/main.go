package main

import (
	"os"

	"conservative_bot/internal/cli"
	"conservative_bot/pkg/logger"
)

func main() {
	defer logger.Sync()
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
