package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

const (
	envPrefix                  = "AASHARING"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabaseDriver      = "sqlite"
	defaultDatabaseDSN         = "aasharing.db"
	defaultLogLevel            = "info"
	defaultTokenTTLMinutes     = 60
	defaultChallengeTTLMinutes = 5
	defaultChainID             = 31337
	defaultTokenName           = "Mock USDC"
	defaultTokenSymbol         = "USDC"
	defaultTokenDecimals       = 6
	defaultFeeBasisPoints      = 50
	defaultMinDeposit          = 1_000000
	defaultMaxDeposit          = 100_000_000000
	maxFeeBasisPoints          = 1000
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabaseDriver string
	DatabaseDSN    string
	LogLevel       string
	LogDevelopment bool

	SigningSecret string
	TokenTTL      time.Duration
	ChallengeTTL  time.Duration

	ChainID       uint64
	TokenName     string
	TokenSymbol   string
	TokenDecimals uint8
	TokenMinter   common.Address
	LedgerOwner   common.Address

	BridgeOwner          common.Address
	BridgeValidator      common.Address
	BridgeFeeBasisPoints uint64
	BridgeMinDeposit     uint64
	BridgeMaxDeposit     uint64
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.development", false)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.challenge_ttl_minutes", defaultChallengeTTLMinutes)
	configViper.SetDefault("chain.id", defaultChainID)
	configViper.SetDefault("token.name", defaultTokenName)
	configViper.SetDefault("token.symbol", defaultTokenSymbol)
	configViper.SetDefault("token.decimals", defaultTokenDecimals)
	configViper.SetDefault("bridge.fee_basis_points", defaultFeeBasisPoints)
	configViper.SetDefault("bridge.min_deposit", defaultMinDeposit)
	configViper.SetDefault("bridge.max_deposit", defaultMaxDeposit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		LogLevel:             configViper.GetString("log.level"),
		LogDevelopment:       configViper.GetBool("log.development"),
		SigningSecret:        configViper.GetString("auth.signing_secret"),
		TokenTTL:             time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		ChallengeTTL:         time.Duration(configViper.GetInt("auth.challenge_ttl_minutes")) * time.Minute,
		ChainID:              configViper.GetUint64("chain.id"),
		TokenName:            configViper.GetString("token.name"),
		TokenSymbol:          configViper.GetString("token.symbol"),
		BridgeFeeBasisPoints: configViper.GetUint64("bridge.fee_basis_points"),
		BridgeMinDeposit:     configViper.GetUint64("bridge.min_deposit"),
		BridgeMaxDeposit:     configViper.GetUint64("bridge.max_deposit"),
	}

	decimals := configViper.GetInt("token.decimals")
	if decimals < 0 || decimals > 18 {
		return AppConfig{}, fmt.Errorf("token.decimals must be between 0 and 18")
	}
	cfg.TokenDecimals = uint8(decimals)

	addresses := []struct {
		key    string
		target *common.Address
	}{
		{key: "token.minter", target: &cfg.TokenMinter},
		{key: "ledger.owner", target: &cfg.LedgerOwner},
		{key: "bridge.owner", target: &cfg.BridgeOwner},
		{key: "bridge.validator", target: &cfg.BridgeValidator},
	}
	for _, entry := range addresses {
		address, err := parseAddress(entry.key, configViper.GetString(entry.key))
		if err != nil {
			return AppConfig{}, err
		}
		*entry.target = address
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func parseAddress(key, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("%s is required", key)
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s must be a hex address", key)
	}
	address := common.HexToAddress(trimmed)
	if address == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s must not be the zero address", key)
	}
	return address, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "postgres" {
		return fmt.Errorf("database.driver must be sqlite or postgres")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.ChallengeTTL <= 0 {
		return fmt.Errorf("auth.challenge_ttl_minutes must be positive")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chain.id must be positive")
	}
	if strings.TrimSpace(c.TokenSymbol) == "" {
		return fmt.Errorf("token.symbol is required")
	}
	if c.BridgeFeeBasisPoints > maxFeeBasisPoints {
		return fmt.Errorf("bridge.fee_basis_points must not exceed %d", maxFeeBasisPoints)
	}
	if c.BridgeMinDeposit == 0 || c.BridgeMaxDeposit <= c.BridgeMinDeposit {
		return fmt.Errorf("bridge deposit limits require 0 < min_deposit < max_deposit")
	}
	return nil
}
