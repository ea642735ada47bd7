package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "fundd",
		Short:        "Tokenized multi-asset fund engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the fund service",
		RunE:  runServe,
	}

	serveCmd.Flags().String("rpc", "", "EVM RPC URL for on-chain quotes")
	serveCmd.Flags().String("router", "", "V2-style router address for quotes")
	serveCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	serveCmd.Flags().String("journal", "./data/fund_events.jsonl", "event journal JSONL path")
	serveCmd.Flags().String("fee-cron", "0 0 * * * *", "fee collection schedule")
	serveCmd.Flags().String("rebalance-cron", "0 */5 * * * *", "rebalance check schedule")
	serveCmd.Flags().String("accounting", "", "accounting asset address")
	serveCmd.Flags().StringSlice("asset", nil, "allowed asset addresses (comma-separated)")
	serveCmd.Flags().StringSlice("weight", nil, "target weights in bps, aligned with --asset")
	serveCmd.Flags().String("owner", "", "fund owner address")
	serveCmd.Flags().String("agent", "", "fund agent address")
	serveCmd.Flags().String("agent-fee-wallet", "", "agent fee wallet address")
	serveCmd.Flags().String("protocol-fee-recipient", "", "protocol fee recipient address")
	serveCmd.Flags().Uint64("agent-fee-bps", 0, "annual management fee in bps")
	serveCmd.Flags().Uint64("threshold-bps", 100, "rebalance deviation threshold in bps")
	serveCmd.Flags().Uint64("slippage-bps", 50, "max slippage per trade in bps")
	serveCmd.Flags().Duration("deadline-offset", 15*time.Minute, "swap deadline offset")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scripted fund lifecycle against an in-memory venue",
		RunE:  runSimulate,
	}

	simulateCmd.Flags().String("journal", "", "optional event journal JSONL path")
	simulateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(simulateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
