package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/ggonzalez94/ethpilot/internal/registry"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const envPrefix = "ETHPILOT_"

type GlobalFlags struct {
	ConfigPath     string
	EnvFile        string
	Wallet         string
	RPCURL         string
	Timeout        string
	Retries        int
	PollInterval   string
	SessionTimeout string
	EnableCommands string
	CachePath      string
	LogLevel       string
	LogFormat      string
	StatusListen   string
}

// BindFlags registers the global flags on fs.
func BindFlags(fs *pflag.FlagSet, flags *GlobalFlags) {
	fs.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	fs.StringVar(&flags.EnvFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	fs.StringVar(&flags.Wallet, "wallet", "", "Operator wallet address")
	fs.StringVar(&flags.RPCURL, "rpc-url", "", "Ethereum JSON-RPC endpoint")
	fs.StringVar(&flags.Timeout, "timeout", "", "Per-attempt provider request deadline")
	fs.IntVar(&flags.Retries, "retries", -1, "Retries per provider request")
	fs.StringVar(&flags.PollInterval, "poll-interval", "", "Wallet monitor poll interval")
	fs.StringVar(&flags.SessionTimeout, "session-timeout", "", "Conversation inactivity timeout")
	fs.StringVar(&flags.EnableCommands, "enable-commands", "", "Allowlist chat commands (comma-separated)")
	fs.StringVar(&flags.CachePath, "cache-path", "", "SQLite cache path (empty keeps the cache in memory)")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&flags.LogFormat, "log-format", "", "Log format: text or json")
	fs.StringVar(&flags.StatusListen, "status-listen", "", "Listen address for the status HTTP server")
}

type Settings struct {
	WalletAddress  string
	TelegramToken  string
	AllowedChatIDs []int64
	EnableCommands []string

	RPCURL              string
	AlchemyAPIKey       string
	EtherscanAPIKey     string
	MoralisAPIKey       string
	ChainbaseAPIKey     string
	HoneypotAPIKey      string
	AlchemyComputeUnits uint64
	EtherscanRPS        float64

	Timeout  time.Duration
	Retries  int
	PriceTTL time.Duration
	MaxStale time.Duration
	RiskTTL  time.Duration

	PollInterval   time.Duration
	PollJitter     time.Duration
	MonitorWorkers int
	WatchExpiry    time.Duration
	SessionTimeout time.Duration

	CachePath     string
	CacheLockPath string

	LogLevel     string
	LogFormat    string
	StatusListen string
}

type apiKeyConfig struct {
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type fileConfig struct {
	Wallet         string   `yaml:"wallet"`
	EnableCommands []string `yaml:"enable_commands"`
	Timeout        string   `yaml:"timeout"`
	Retries        *int     `yaml:"retries"`
	Telegram       struct {
		Token          string  `yaml:"token"`
		TokenEnv       string  `yaml:"token_env"`
		AllowedChatIDs []int64 `yaml:"allowed_chat_ids"`
	} `yaml:"telegram"`
	Monitor struct {
		PollInterval string `yaml:"poll_interval"`
		PollJitter   string `yaml:"poll_jitter"`
		Workers      *int   `yaml:"workers"`
		WatchExpiry  string `yaml:"watch_expiry"`
	} `yaml:"monitor"`
	Session struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"session"`
	Risk struct {
		TTL string `yaml:"ttl"`
	} `yaml:"risk"`
	Cache struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
		PriceTTL string `yaml:"price_ttl"`
		MaxStale string `yaml:"max_stale"`
	} `yaml:"cache"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Status struct {
		Listen string `yaml:"listen"`
	} `yaml:"status"`
	Providers struct {
		RPCURL  string `yaml:"rpc_url"`
		Alchemy struct {
			apiKeyConfig `yaml:",inline"`
			ComputeUnits *uint64 `yaml:"compute_units"`
		} `yaml:"alchemy"`
		Etherscan struct {
			apiKeyConfig `yaml:",inline"`
			RPS          *float64 `yaml:"rps"`
		} `yaml:"etherscan"`
		Moralis   apiKeyConfig `yaml:"moralis"`
		Chainbase apiKeyConfig `yaml:"chainbase"`
		Honeypot  apiKeyConfig `yaml:"honeypot"`
	} `yaml:"providers"`
}

// Load resolves settings with precedence flags > environment > file > defaults.
// A dotenv file, when present, is loaded into the environment first and never
// overrides variables that are already set.
func Load(flags GlobalFlags) (Settings, error) {
	settings := defaultSettings()

	if err := loadDotenv(flags.EnvFile); err != nil {
		return Settings{}, clierr.Wrap(clierr.CodeConfig, "load env file", err)
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, clierr.Wrap(clierr.CodeConfig, "resolve config path", err)
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, clierr.Wrap(clierr.CodeConfig, "read config file", err)
	}
	if err := applyEnv(&settings); err != nil {
		return Settings{}, clierr.Wrap(clierr.CodeConfig, "read environment", err)
	}
	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, clierr.Wrap(clierr.CodeConfig, "parse flags", err)
	}

	if settings.RPCURL == "" {
		settings.RPCURL = registry.ResolveRPCURL("", settings.AlchemyAPIKey)
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.MonitorWorkers <= 0 {
		settings.MonitorWorkers = 1
	}
	return settings, nil
}

// Validate checks what serving needs. requireTransport is false for the
// console and one-shot commands, which never talk to Telegram.
func (s Settings) Validate(requireTransport bool) error {
	var problems []string
	if strings.TrimSpace(s.WalletAddress) == "" {
		problems = append(problems, "wallet address is required (ETHPILOT_WALLET_ADDRESS or --wallet)")
	} else if !common.IsHexAddress(s.WalletAddress) {
		problems = append(problems, fmt.Sprintf("wallet address %q is not a valid hex address", s.WalletAddress))
	}
	if requireTransport && strings.TrimSpace(s.TelegramToken) == "" {
		problems = append(problems, "telegram token is required (ETHPILOT_TELEGRAM_TOKEN)")
	}
	if s.Timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if s.PollInterval <= 0 {
		problems = append(problems, "monitor poll interval must be positive")
	}
	if s.PollJitter < 0 || s.PollJitter >= s.PollInterval {
		problems = append(problems, "monitor poll jitter must be non-negative and below the poll interval")
	}
	if s.SessionTimeout <= 0 {
		problems = append(problems, "session timeout must be positive")
	}
	if s.LogFormat != "text" && s.LogFormat != "json" {
		problems = append(problems, "log format must be text or json")
	}
	if len(problems) > 0 {
		return clierr.New(clierr.CodeConfig, "invalid configuration: "+strings.Join(problems, "; "))
	}
	return nil
}

func defaultSettings() Settings {
	return Settings{
		AlchemyComputeUnits: 300_000_000,
		EtherscanRPS:        4,
		Timeout:             5 * time.Second,
		Retries:             3,
		PriceTTL:            time.Minute,
		MaxStale:            10 * time.Minute,
		RiskTTL:             10 * time.Minute,
		PollInterval:        30 * time.Second,
		PollJitter:          5 * time.Second,
		MonitorWorkers:      4,
		WatchExpiry:         7 * 24 * time.Hour,
		SessionTimeout:      5 * time.Minute,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

func loadDotenv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	if v := os.Getenv(envPrefix + "CONFIG"); v != "" {
		return v, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "ethpilot", "config.yaml"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	setString(&settings.WalletAddress, cfg.Wallet)
	if len(cfg.EnableCommands) > 0 {
		settings.EnableCommands = cfg.EnableCommands
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	setString(&settings.TelegramToken, cfg.Telegram.Token)
	if cfg.Telegram.TokenEnv != "" {
		settings.TelegramToken = os.Getenv(cfg.Telegram.TokenEnv)
	}
	if len(cfg.Telegram.AllowedChatIDs) > 0 {
		settings.AllowedChatIDs = cfg.Telegram.AllowedChatIDs
	}
	if cfg.Monitor.Workers != nil {
		settings.MonitorWorkers = *cfg.Monitor.Workers
	}
	setString(&settings.CachePath, cfg.Cache.Path)
	setString(&settings.CacheLockPath, cfg.Cache.LockPath)
	setString(&settings.LogLevel, strings.ToLower(cfg.Log.Level))
	setString(&settings.LogFormat, strings.ToLower(cfg.Log.Format))
	setString(&settings.StatusListen, cfg.Status.Listen)
	setString(&settings.RPCURL, cfg.Providers.RPCURL)

	settings.AlchemyAPIKey = resolveKey(cfg.Providers.Alchemy.apiKeyConfig, settings.AlchemyAPIKey)
	settings.EtherscanAPIKey = resolveKey(cfg.Providers.Etherscan.apiKeyConfig, settings.EtherscanAPIKey)
	settings.MoralisAPIKey = resolveKey(cfg.Providers.Moralis, settings.MoralisAPIKey)
	settings.ChainbaseAPIKey = resolveKey(cfg.Providers.Chainbase, settings.ChainbaseAPIKey)
	settings.HoneypotAPIKey = resolveKey(cfg.Providers.Honeypot, settings.HoneypotAPIKey)
	if cfg.Providers.Alchemy.ComputeUnits != nil {
		settings.AlchemyComputeUnits = *cfg.Providers.Alchemy.ComputeUnits
	}
	if cfg.Providers.Etherscan.RPS != nil {
		settings.EtherscanRPS = *cfg.Providers.Etherscan.RPS
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"timeout", cfg.Timeout, &settings.Timeout},
		{"monitor.poll_interval", cfg.Monitor.PollInterval, &settings.PollInterval},
		{"monitor.poll_jitter", cfg.Monitor.PollJitter, &settings.PollJitter},
		{"monitor.watch_expiry", cfg.Monitor.WatchExpiry, &settings.WatchExpiry},
		{"session.timeout", cfg.Session.Timeout, &settings.SessionTimeout},
		{"risk.ttl", cfg.Risk.TTL, &settings.RiskTTL},
		{"cache.price_ttl", cfg.Cache.PriceTTL, &settings.PriceTTL},
		{"cache.max_stale", cfg.Cache.MaxStale, &settings.MaxStale},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.value); err != nil {
			return fmt.Errorf("config %s: %w", d.name, err)
		}
	}
	return nil
}

func applyEnv(settings *Settings) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{"WALLET_ADDRESS", &settings.WalletAddress},
		{"TELEGRAM_TOKEN", &settings.TelegramToken},
		{"RPC_URL", &settings.RPCURL},
		{"ALCHEMY_API_KEY", &settings.AlchemyAPIKey},
		{"ETHERSCAN_API_KEY", &settings.EtherscanAPIKey},
		{"MORALIS_API_KEY", &settings.MoralisAPIKey},
		{"CHAINBASE_API_KEY", &settings.ChainbaseAPIKey},
		{"HONEYPOT_API_KEY", &settings.HoneypotAPIKey},
		{"CACHE_PATH", &settings.CachePath},
		{"CACHE_LOCK_PATH", &settings.CacheLockPath},
		{"LOG_LEVEL", &settings.LogLevel},
		{"LOG_FORMAT", &settings.LogFormat},
		{"STATUS_LISTEN", &settings.StatusListen},
	}
	for _, s := range strs {
		setString(s.dst, os.Getenv(envPrefix+s.name))
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"TIMEOUT", &settings.Timeout},
		{"POLL_INTERVAL", &settings.PollInterval},
		{"POLL_JITTER", &settings.PollJitter},
		{"WATCH_EXPIRY", &settings.WatchExpiry},
		{"SESSION_TIMEOUT", &settings.SessionTimeout},
		{"RISK_TTL", &settings.RiskTTL},
		{"PRICE_TTL", &settings.PriceTTL},
		{"MAX_STALE", &settings.MaxStale},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, os.Getenv(envPrefix+d.name)); err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, d.name, err)
		}
	}

	if v := os.Getenv(envPrefix + "RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sRETRIES: %w", envPrefix, err)
		}
		settings.Retries = n
	}
	if v := os.Getenv(envPrefix + "MONITOR_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMONITOR_WORKERS: %w", envPrefix, err)
		}
		settings.MonitorWorkers = n
	}
	if v := os.Getenv(envPrefix + "ALCHEMY_COMPUTE_UNITS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sALCHEMY_COMPUTE_UNITS: %w", envPrefix, err)
		}
		settings.AlchemyComputeUnits = n
	}
	if v := os.Getenv(envPrefix + "ALLOWED_CHAT_IDS"); v != "" {
		ids, err := parseChatIDs(v)
		if err != nil {
			return fmt.Errorf("%sALLOWED_CHAT_IDS: %w", envPrefix, err)
		}
		settings.AllowedChatIDs = ids
	}
	if v := os.Getenv(envPrefix + "ENABLE_COMMANDS"); v != "" {
		settings.EnableCommands = splitList(v)
	}
	return nil
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	setString(&settings.WalletAddress, flags.Wallet)
	setString(&settings.RPCURL, flags.RPCURL)
	setString(&settings.CachePath, flags.CachePath)
	setString(&settings.LogLevel, strings.ToLower(flags.LogLevel))
	setString(&settings.LogFormat, strings.ToLower(flags.LogFormat))
	setString(&settings.StatusListen, flags.StatusListen)
	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitList(flags.EnableCommands)
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if err := setDuration(&settings.Timeout, flags.Timeout); err != nil {
		return fmt.Errorf("parse --timeout: %w", err)
	}
	if err := setDuration(&settings.PollInterval, flags.PollInterval); err != nil {
		return fmt.Errorf("parse --poll-interval: %w", err)
	}
	if err := setDuration(&settings.SessionTimeout, flags.SessionTimeout); err != nil {
		return fmt.Errorf("parse --session-timeout: %w", err)
	}
	return nil
}

// MaskSecret keeps the last four characters of a credential.
func MaskSecret(v string) string {
	if v == "" {
		return "(not set)"
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

func resolveKey(cfg apiKeyConfig, current string) string {
	if cfg.APIKeyEnv != "" {
		return os.Getenv(cfg.APIKeyEnv)
	}
	if cfg.APIKey != "" {
		return cfg.APIKey
	}
	return current
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setDuration(dst *time.Duration, v string) error {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseChatIDs(v string) ([]int64, error) {
	parts := splitList(v)
	out := make([]int64, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chat id %q: %w", part, err)
		}
		out = append(out, n)
	}
	return out, nil
}
