package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/spf13/pflag"
)

const testWallet = "0x1111111111111111111111111111111111111111"

func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	for _, name := range []string{"WALLET_ADDRESS", "TELEGRAM_TOKEN", "RETRIES", "TIMEOUT", "ALCHEMY_API_KEY", "RPC_URL", "CONFIG"} {
		t.Setenv(envPrefix+name, "")
	}
	return tmp
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := isolate(t)
	configPath := filepath.Join(tmp, "config.yaml")
	body := "wallet: " + testWallet + "\nretries: 1\ntimeout: 2s\nmonitor:\n  poll_interval: 45s\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ETHPILOT_RETRIES", "2")
	t.Setenv("ETHPILOT_TIMEOUT", "3s")
	flags := GlobalFlags{ConfigPath: configPath, Retries: 5}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
	if settings.Timeout != 3*time.Second {
		t.Fatalf("expected env timeout to beat file, got %s", settings.Timeout)
	}
	if settings.PollInterval != 45*time.Second {
		t.Fatalf("expected file poll interval, got %s", settings.PollInterval)
	}
	if settings.WalletAddress != testWallet {
		t.Fatalf("unexpected wallet %q", settings.WalletAddress)
	}
	if err := settings.Validate(false); err != nil {
		t.Fatalf("expected valid settings: %v", err)
	}
}

func TestLoadDotenvDoesNotOverrideEnvironment(t *testing.T) {
	tmp := isolate(t)
	envPath := filepath.Join(tmp, ".env")
	content := "ETHPILOT_WALLET_ADDRESS=" + testWallet + "\nETHPILOT_TELEGRAM_TOKEN=from-dotenv\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("ETHPILOT_TELEGRAM_TOKEN", "from-env")
	// An empty variable counts as set for godotenv, so clear it for the wallet.
	_ = os.Unsetenv("ETHPILOT_WALLET_ADDRESS")
	t.Cleanup(func() { _ = os.Unsetenv("ETHPILOT_WALLET_ADDRESS") })

	settings, err := Load(GlobalFlags{EnvFile: envPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.WalletAddress != testWallet {
		t.Fatalf("expected wallet from dotenv, got %q", settings.WalletAddress)
	}
	if settings.TelegramToken != "from-env" {
		t.Fatalf("expected environment to win over dotenv, got %q", settings.TelegramToken)
	}
}

func TestLoadAPIKeyEnvIndirectionAndRPCResolution(t *testing.T) {
	tmp := isolate(t)
	configPath := filepath.Join(tmp, "config.yaml")
	body := "providers:\n  alchemy:\n    api_key_env: MY_ALCHEMY\n    compute_units: 1000\n  moralis:\n    api_key: moralis-key\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MY_ALCHEMY", "alch-secret")

	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.AlchemyAPIKey != "alch-secret" || settings.MoralisAPIKey != "moralis-key" {
		t.Fatalf("unexpected keys: %+v", settings)
	}
	if settings.AlchemyComputeUnits != 1000 {
		t.Fatalf("unexpected compute units %d", settings.AlchemyComputeUnits)
	}
	if !strings.HasSuffix(settings.RPCURL, "/v2/alch-secret") {
		t.Fatalf("expected alchemy rpc url, got %s", settings.RPCURL)
	}
}

func TestValidateReportsConfigError(t *testing.T) {
	isolate(t)
	settings, err := Load(GlobalFlags{Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	err = settings.Validate(true)
	if err == nil {
		t.Fatal("expected missing wallet and token to fail validation")
	}
	if clierr.CodeOf(err) != clierr.CodeConfig {
		t.Fatalf("expected config code, got %v", err)
	}
	if !strings.Contains(err.Error(), "wallet") || !strings.Contains(err.Error(), "telegram") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	isolate(t)
	t.Setenv("ETHPILOT_TIMEOUT", "soon")
	_, err := Load(GlobalFlags{Retries: -1})
	if err == nil || clierr.CodeOf(err) != clierr.CodeConfig {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestBindFlags(t *testing.T) {
	var flags GlobalFlags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, &flags)
	if err := fs.Parse([]string{"--wallet", testWallet, "--retries", "1", "--poll-interval", "10s"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if flags.Wallet != testWallet || flags.Retries != 1 || flags.PollInterval != "10s" {
		t.Fatalf("unexpected flags %+v", flags)
	}
}

func TestMaskSecret(t *testing.T) {
	if MaskSecret("") != "(not set)" || MaskSecret("abc") != "****" || MaskSecret("abcdef123") != "****f123" {
		t.Fatal("unexpected masking")
	}
}
