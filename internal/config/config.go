package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds service configuration loaded from flags, env, or config file.
type Config struct {
	RPCURL        string
	RouterAddress string
	PGDSN         string
	JournalPath   string
	LogLevel      string

	FeeCron       string
	RebalanceCron string

	Accounting           string
	Assets               []string
	Weights              []uint64
	Owner                string
	Agent                string
	AgentFeeWallet       string
	ProtocolFeeRecipient string
	AgentFeeBps          uint64

	ThresholdBps   uint64
	SlippageBps    uint64
	DeadlineOffset time.Duration
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FUNDD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("journal", "./data/fund_events.jsonl")
	v.SetDefault("log-level", "info")
	v.SetDefault("fee-cron", "0 0 * * * *")
	v.SetDefault("rebalance-cron", "0 */5 * * * *")
	v.SetDefault("threshold-bps", uint64(100))
	v.SetDefault("slippage-bps", uint64(50))
	v.SetDefault("deadline-offset", 15*time.Minute)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:               v.GetString("rpc"),
		RouterAddress:        v.GetString("router"),
		PGDSN:                v.GetString("pg-dsn"),
		JournalPath:          v.GetString("journal"),
		LogLevel:             v.GetString("log-level"),
		FeeCron:              v.GetString("fee-cron"),
		RebalanceCron:        v.GetString("rebalance-cron"),
		Accounting:           v.GetString("accounting"),
		Assets:               getStringSlice(v, "asset"),
		Weights:              getUint64Slice(v, "weight"),
		Owner:                v.GetString("owner"),
		Agent:                v.GetString("agent"),
		AgentFeeWallet:       v.GetString("agent-fee-wallet"),
		ProtocolFeeRecipient: v.GetString("protocol-fee-recipient"),
		AgentFeeBps:          v.GetUint64("agent-fee-bps"),
		ThresholdBps:         v.GetUint64("threshold-bps"),
		SlippageBps:          v.GetUint64("slippage-bps"),
		DeadlineOffset:       v.GetDuration("deadline-offset"),
	}

	return cfg, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func getUint64Slice(v *viper.Viper, key string) []uint64 {
	raw := getStringSlice(v, key)
	out := make([]uint64, 0, len(raw))
	for _, item := range raw {
		var parsed uint64
		if _, err := fmt.Sscanf(item, "%d", &parsed); err != nil {
			continue
		}
		out = append(out, parsed)
	}
	return out
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
