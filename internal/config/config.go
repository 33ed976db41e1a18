package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	RPCList     []string `mapstructure:"rpc_list"`
	PostgresURL string   `mapstructure:"postgres_url"`
	ListenAddr  string   `mapstructure:"listen_addr"`

	// Custody.
	MasterSecret string `mapstructure:"master_secret"`

	// Fee routing.
	PlatformFeeAccount string `mapstructure:"platform_fee_account"`

	// Settlement timing, in milliseconds where integer.
	QuoteValidityMs  int `mapstructure:"quote_validity_ms"`
	PollIntervalMs   int `mapstructure:"poll_interval_ms"`
	PollTimeoutMs    int `mapstructure:"poll_timeout_ms"`
	SubmitRetries    int `mapstructure:"submit_retries"`
	ReserveRetries   int `mapstructure:"reserve_retries"`
	CurrencyDecimals int `mapstructure:"currency_decimals"`

	// Graduation.
	GraduationTargetUSD float64 `mapstructure:"graduation_target_usd"`
	OracleURL           string  `mapstructure:"oracle_url"`
	OracleTTLMs         int     `mapstructure:"oracle_ttl_ms"`
	OracleFallbackUSD   float64 `mapstructure:"oracle_fallback_usd"`

	// Logging.
	LogFile      string `mapstructure:"log_file"`
	DebugLogging bool   `mapstructure:"debug_logging"`
}

const (
	DefaultListenAddr       = ":8080"
	DefaultQuoteValidityMs  = 60_000
	DefaultPollIntervalMs   = 2_000
	DefaultPollTimeoutMs    = 90_000
	DefaultSubmitRetries    = 3
	DefaultReserveRetries   = 5
	DefaultCurrencyDecimals = 9
	DefaultGraduationUSD    = 69_000
	DefaultOracleTTLMs      = 60_000
	DefaultOracleFallback   = 150
	DefaultLogFile          = "launchpad.log"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"listen_addr":           DefaultListenAddr,
		"quote_validity_ms":     DefaultQuoteValidityMs,
		"poll_interval_ms":      DefaultPollIntervalMs,
		"poll_timeout_ms":       DefaultPollTimeoutMs,
		"submit_retries":        DefaultSubmitRetries,
		"reserve_retries":       DefaultReserveRetries,
		"currency_decimals":     DefaultCurrencyDecimals,
		"graduation_target_usd": DefaultGraduationUSD,
		"oracle_ttl_ms":         DefaultOracleTTLMs,
		"oracle_fallback_usd":   DefaultOracleFallback,
		"log_file":              DefaultLogFile,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURL(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if cfg.PostgresURL == "" {
		return errors.New("missing postgres_url in configuration")
	}
	if cfg.MasterSecret == "" {
		return errors.New("missing master_secret in configuration")
	}
	if cfg.PlatformFeeAccount == "" {
		return errors.New("missing platform_fee_account in configuration")
	}
	if cfg.OracleURL != "" {
		if err := validateURL(cfg.OracleURL, "http"); err != nil {
			return errors.New("invalid oracle URL protocol")
		}
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.QuoteValidityMs <= 0 {
		return errors.New("invalid quote_validity_ms")
	}
	if cfg.PollIntervalMs <= 0 {
		return errors.New("invalid poll_interval_ms")
	}
	if cfg.PollTimeoutMs <= 0 {
		return errors.New("invalid poll_timeout_ms")
	}
	if cfg.SubmitRetries < 0 {
		return errors.New("invalid submit_retries count")
	}
	if cfg.ReserveRetries <= 0 {
		return errors.New("invalid reserve_retries count")
	}
	if cfg.CurrencyDecimals < 0 || cfg.CurrencyDecimals > 18 {
		return errors.New("invalid currency_decimals")
	}
	if cfg.GraduationTargetUSD <= 0 {
		return errors.New("invalid graduation_target_usd")
	}
	return nil
}

func (c *Config) QuoteValidity() time.Duration { return time.Duration(c.QuoteValidityMs) * time.Millisecond }
func (c *Config) PollInterval() time.Duration  { return time.Duration(c.PollIntervalMs) * time.Millisecond }
func (c *Config) PollTimeout() time.Duration   { return time.Duration(c.PollTimeoutMs) * time.Millisecond }
func (c *Config) OracleTTL() time.Duration     { return time.Duration(c.OracleTTLMs) * time.Millisecond }

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("LAUNCHPAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envSecret := v.GetString("MASTER_SECRET"); envSecret != "" {
		cfg.MasterSecret = envSecret
	}
	if envPostgres := v.GetString("POSTGRES_URL"); envPostgres != "" {
		cfg.PostgresURL = envPostgres
	}
	if envRPCList := v.GetString("RPC_LIST"); envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
	return nil
}
