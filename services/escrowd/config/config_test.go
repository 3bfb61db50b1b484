package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const (
	vaultHex = "0x00000000000000000000000000000000000000fa"
	adminHex = "0x00000000000000000000000000000000000000a1"
	judgeHex = "0x00000000000000000000000000000000000000a2"
	tokenHex = "0x00000000000000000000000000000000000000b1"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	t.Setenv(JWTSecretEnv, "")
	path := writeFile(t, "escrowd.yaml", `
custody:
  vault: "`+vaultHex+`"
orders:
  fee_percent: 500
  fee_receiver: "`+adminHex+`"
  payment_tokens: ["`+tokenHex+`"]
access:
  admins: ["`+adminHex+`"]
  adjudicators: ["`+judgeHex+`"]
auth:
  hmac_secret: "s3cret"
  clock_skew: 30s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7081", cfg.ListenAddress)
	require.Equal(t, "leveldb", cfg.Storage.Engine)
	require.Equal(t, 30*time.Second, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, float64(600), cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, common.HexToAddress(vaultHex), cfg.Vault())
	require.Equal(t, []common.Address{common.HexToAddress(tokenHex)}, cfg.PaymentTokens())
	require.Equal(t, []common.Address{common.HexToAddress(adminHex)}, cfg.Admins())
	require.Equal(t, []common.Address{common.HexToAddress(judgeHex)}, cfg.Adjudicators())
	fee := cfg.FeeConfig()
	require.Equal(t, uint64(500), fee.Percent)
	require.Equal(t, common.HexToAddress(adminHex), fee.Receiver)
}

func TestLoadTOMLWithSecretFromEnv(t *testing.T) {
	t.Setenv(JWTSecretEnv, "from-env")
	path := writeFile(t, "escrowd.toml", `
listen = "127.0.0.1:9000"

[storage]
engine = "bolt"
path = "/tmp/escrowd.db"

[custody]
vault = "`+vaultHex+`"

[orders]
migrate_contractor_index = true

[access]
admins = ["`+adminHex+`"]

[auth]
clock_skew = "1m"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, "bolt", cfg.Storage.Engine)
	require.Equal(t, "from-env", cfg.Auth.HMACSecret)
	require.Equal(t, time.Minute, cfg.Auth.ClockSkew.Duration)
	require.True(t, cfg.Orders.MigrateContractorIndex)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv(JWTSecretEnv, "")
	cases := map[string]string{
		"missing secret": `
custody: {vault: "` + vaultHex + `"}
access: {admins: ["` + adminHex + `"]}
`,
		"zero vault": `
auth: {hmac_secret: x}
custody: {vault: "0x0000000000000000000000000000000000000000"}
access: {admins: ["` + adminHex + `"]}
`,
		"fee without receiver": `
auth: {hmac_secret: x}
custody: {vault: "` + vaultHex + `"}
orders: {fee_percent: 10}
access: {admins: ["` + adminHex + `"]}
`,
		"fee above precision": `
auth: {hmac_secret: x}
custody: {vault: "` + vaultHex + `"}
orders: {fee_percent: 10001, fee_receiver: "` + adminHex + `"}
access: {admins: ["` + adminHex + `"]}
`,
		"no admins": `
auth: {hmac_secret: x}
custody: {vault: "` + vaultHex + `"}
`,
		"bad token": `
auth: {hmac_secret: x}
custody: {vault: "` + vaultHex + `"}
orders: {payment_tokens: ["nope"]}
access: {admins: ["` + adminHex + `"]}
`,
		"unknown engine": `
auth: {hmac_secret: x}
custody: {vault: "` + vaultHex + `"}
access: {admins: ["` + adminHex + `"]}
storage: {engine: rocks}
`,
		"bad duration": `
auth: {hmac_secret: x, clock_skew: soon}
custody: {vault: "` + vaultHex + `"}
access: {admins: ["` + adminHex + `"]}
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "escrowd.yaml", body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
