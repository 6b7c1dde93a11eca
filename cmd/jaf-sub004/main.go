// Package main provides the CLI entry point for the Run Engine's HTTP
// boundary: a server process that loads the deployment configuration,
// wires the stores and providers together, and serves spec §6's endpoints
// until told to stop.
//
// Usage:
//
//	jaf-sub004 serve --config config.yaml
//	jaf-sub004 migrate --config config.yaml
//
// Environment variables:
//
//   - ANTHROPIC_API_KEY: Anthropic API key for the anthropic provider.
//   - OPENAI_API_KEY: OpenAI API key for the openai provider.
package main

import (
	"log/slog"
	"os"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}
