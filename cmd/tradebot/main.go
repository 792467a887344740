package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"tradebot/internal/cli"
	"tradebot/internal/logging"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", logging.Redact(err.Error()))
		os.Exit(1)
	}
}
