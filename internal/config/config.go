package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RewardToken defines one reward pool: the asset distributed, the linear
// rate in reward units per one payment-token unit, and the fixed ceiling on
// total distribution.
type RewardToken struct {
	Name      string
	AssetID   uint64
	Rate      uint64
	TotalPool uint64
	Memo      string
}

type Config struct {
	// Algorand
	AlgodURL     string
	AlgodToken   string
	IndexerURL   string
	IndexerToken string

	// Payments
	MasterCollectorAddr  string
	PaymentAssetID       uint64
	PaymentAssetDecimals uint

	// Rewards
	RewardWalletMnemonic string
	RewardTokens         []RewardToken

	// Database
	DBPath string

	// Run behavior
	Interval           time.Duration
	ConfirmationRounds uint64
	ScanPageLimit      uint64

	// Telegram (optional run reports)
	BotToken    string
	AdminChatID int64
}

func Load() *Config {
	cfg := &Config{
		// Algorand
		AlgodURL:     strings.TrimSuffix(getEnv("ALGOD_URL", "https://mainnet-api.algonode.cloud"), "/"),
		AlgodToken:   getEnv("ALGOD_TOKEN", ""),
		IndexerURL:   strings.TrimSuffix(getEnv("INDEXER_URL", "https://mainnet-idx.algonode.cloud"), "/"),
		IndexerToken: getEnv("INDEXER_TOKEN", ""),

		// Payments
		MasterCollectorAddr:  getEnv("MASTER_COLLECTOR_ADDR", ""),
		PaymentAssetID:       getEnvUint("PAYMENT_ASSET_ID", 31566704), // USDC
		PaymentAssetDecimals: uint(getEnvUint("PAYMENT_ASSET_DECIMALS", 6)),

		// Rewards
		RewardWalletMnemonic: getEnv("REWARD_WALLET_MNEMONIC", ""),

		// Database
		DBPath: getEnv("DB_PATH", "./reconciler.db"),

		// Run behavior
		Interval:           getEnvDuration("REWARDS_INTERVAL", 30*time.Minute),
		ConfirmationRounds: getEnvUint("CONFIRMATION_ROUNDS", 4),
		ScanPageLimit:      getEnvUint("SCAN_PAGE_LIMIT", 100),

		// Telegram
		BotToken:    getEnv("BOT_TOKEN", ""),
		AdminChatID: getEnvInt64("ADMIN_CHAT_ID", 0),
	}

	pools := getEnv("REWARD_POOLS", "SOCIALS:2607097066:1000000:8000000000000000:SocialTag rewards")
	cfg.RewardTokens = ParsePools(pools)

	return cfg
}

// ParsePools parses semicolon-separated pool definitions of the form
// name:assetID:rate:totalPool[:memo]. Malformed entries are dropped.
func ParsePools(s string) []RewardToken {
	var tokens []RewardToken
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 5)
		if len(parts) < 4 {
			continue
		}

		assetID, err1 := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
		rate, err2 := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 64)
		totalPool, err3 := strconv.ParseUint(strings.TrimSpace(parts[3]), 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}

		tok := RewardToken{
			Name:      strings.TrimSpace(parts[0]),
			AssetID:   assetID,
			Rate:      rate,
			TotalPool: totalPool,
		}
		if len(parts) == 5 {
			tok.Memo = strings.TrimSpace(parts[4])
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// Validate checks everything that must be fatal at startup, before any
// ledger interaction.
func (c *Config) Validate() error {
	if c.RewardWalletMnemonic == "" {
		return fmt.Errorf("REWARD_WALLET_MNEMONIC is required")
	}
	if c.MasterCollectorAddr == "" {
		return fmt.Errorf("MASTER_COLLECTOR_ADDR is required")
	}
	if c.PaymentAssetID == 0 {
		return fmt.Errorf("PAYMENT_ASSET_ID is required")
	}
	if len(c.RewardTokens) == 0 {
		return fmt.Errorf("no valid reward pool definitions in REWARD_POOLS")
	}
	seen := make(map[string]bool)
	for _, tok := range c.RewardTokens {
		if tok.Name == "" || tok.AssetID == 0 {
			return fmt.Errorf("reward pool %q: name and asset id are required", tok.Name)
		}
		if tok.Rate == 0 {
			return fmt.Errorf("reward pool %q: rate must be positive", tok.Name)
		}
		if tok.TotalPool == 0 {
			return fmt.Errorf("reward pool %q: total pool must be positive", tok.Name)
		}
		if seen[tok.Name] {
			return fmt.Errorf("reward pool %q: duplicate definition", tok.Name)
		}
		seen[tok.Name] = true
	}
	if c.ConfirmationRounds == 0 {
		return fmt.Errorf("CONFIRMATION_ROUNDS must be positive")
	}
	return nil
}

// Token returns the reward token definition by name.
func (c *Config) Token(name string) (RewardToken, bool) {
	for _, tok := range c.RewardTokens {
		if tok.Name == name {
			return tok, true
		}
	}
	return RewardToken{}, false
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvUint(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if u, err := strconv.ParseUint(val, 10, 64); err == nil {
			return u
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
