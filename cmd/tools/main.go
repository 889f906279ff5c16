package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/baxromumarov/estate-hunter/cmd/tools/commands"
)

func main() {
	// A missing .env is fine; config.Load tries again and tolerates it.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := commands.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
