package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
mode = "monitor"
log_level = "debug"

[token]
address = "0x0000000000000000000000000000000000000abc"
symbol = "MAXX"

[pricing]
pair_address = "0x0000000000000000000000000000000000000def"
request_timeout = "5s"

[controller]
tick_interval = "45s"
sell_gain_pct = 0.08
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Mode != "monitor" {
		t.Fatalf("Mode=%q, expected monitor", cfg.Mode)
	}
	if cfg.Controller.TickInterval.Duration != 45*time.Second {
		t.Fatalf("TickInterval=%v, expected 45s", cfg.Controller.TickInterval.Duration)
	}
	if cfg.Controller.SellGainPct != 0.08 {
		t.Fatalf("SellGainPct=%v, expected 0.08", cfg.Controller.SellGainPct)
	}
	// Untouched fields keep their defaults.
	if cfg.Controller.RebuyDropPct != 0.05 {
		t.Fatalf("RebuyDropPct=%v, expected default 0.05", cfg.Controller.RebuyDropPct)
	}
	if cfg.Chain.ChainID != 8453 {
		t.Fatalf("ChainID=%v, expected default 8453", cfg.Chain.ChainID)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
mode = "monitor"

[token]
address = "0x0000000000000000000000000000000000000abc"

[pricing]
pair_address = "0x0000000000000000000000000000000000000def"
`)

	t.Setenv("MAXXBOT_MODE", "status")
	t.Setenv("MAXXBOT_CONTROLLER_GAS_CAP_USD", "2.5")
	t.Setenv("MAXXBOT_CHAIN_RPC_ENDPOINTS", "https://rpc-a.example, https://rpc-b.example")
	t.Setenv("MAXXBOT_CONTROLLER_TICK_INTERVAL", "10s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Mode != "status" {
		t.Fatalf("Mode=%q, expected env override status", cfg.Mode)
	}
	if cfg.Controller.GasCapUSD != 2.5 {
		t.Fatalf("GasCapUSD=%v, expected 2.5", cfg.Controller.GasCapUSD)
	}
	if len(cfg.Chain.RPCEndpoints) != 2 || cfg.Chain.RPCEndpoints[1] != "https://rpc-b.example" {
		t.Fatalf("RPCEndpoints=%v, expected two trimmed entries", cfg.Chain.RPCEndpoints)
	}
	if cfg.Controller.TickInterval.Duration != 10*time.Second {
		t.Fatalf("TickInterval=%v, expected 10s", cfg.Controller.TickInterval.Duration)
	}
}

func TestValidateDefaultsWithTokenAndPair(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Token.Address = "0x0000000000000000000000000000000000000abc"
	cfg.Pricing.PairAddress = "0x0000000000000000000000000000000000000def"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error for complete monitor config: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "reactive" // trading mode, no wallet configured
	cfg.Token.Address = ""
	cfg.Pricing.PairAddress = ""
	cfg.Controller.SellGainPct = 0
	cfg.Controller.SlippageBps = 20_000
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate returned nil for invalid config")
	}

	for _, want := range []string{
		"wallet:",
		"token: address",
		"pricing: pair_address",
		"controller: sell_gain_pct",
		"controller: slippage_bps",
		"server: port",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Validate error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateModeGates(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "unknown mode",
			mutate: func(c *Config) {
				c.Mode = "yolo"
			},
			wantErr: "unknown mode",
		},
		{
			name: "encrypted key without password",
			mutate: func(c *Config) {
				c.Mode = "sell-all"
				c.Wallet.EncryptedKeyPath = "key.enc"
			},
			wantErr: "key_password is required",
		},
		{
			name: "swing share out of range",
			mutate: func(c *Config) {
				c.Mode = "swing"
				c.Wallet.PrivateKey = "ab"
				c.Swing.TargetTokenShare = 1.5
			},
			wantErr: "target_token_share",
		},
		{
			name: "burst cycles",
			mutate: func(c *Config) {
				c.Mode = "burst"
				c.Wallet.PrivateKey = "ab"
				c.Burst.MaxCycles = 0
			},
			wantErr: "max_cycles",
		},
		{
			name: "archive needs bucket",
			mutate: func(c *Config) {
				c.Mode = "monitor"
				c.Archive.Enabled = true
				c.S3.Bucket = ""
			},
			wantErr: "s3: bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Token.Address = "0x0000000000000000000000000000000000000abc"
			cfg.Pricing.PairAddress = "0x0000000000000000000000000000000000000def"
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate returned nil, expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate error missing %q:\n%v", tt.wantErr, err)
			}
		})
	}
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Database.Password = "hunter2"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)

	if red.Wallet.PrivateKey != "***" || red.Database.Password != "***" ||
		red.Redis.Password != "***" || red.S3.SecretKey != "***" ||
		red.Notify.TelegramToken != "***" {
		t.Fatal("RedactedConfig left a secret unredacted")
	}

	// Original must be untouched, and redacted slices must be copies.
	if cfg.Wallet.PrivateKey != "deadbeef" {
		t.Fatal("RedactedConfig mutated the original")
	}
	red.Chain.RPCEndpoints[0] = "mutated"
	if cfg.Chain.RPCEndpoints[0] == "mutated" {
		t.Fatal("RedactedConfig shares the RPCEndpoints slice with the original")
	}
}
