package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const testSecret = "0123456789abcdef0123456789abcdef"

const engineBlock = `
engine:
  owner: "0x00000000000000000000000000000000000000a1"
  custody: "0x00000000000000000000000000000000000000a2"
  liquidator_owner: "0x00000000000000000000000000000000000000b1"
  liquidator_custody: "0x00000000000000000000000000000000000000b2"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
tls:
  allow_insecure: true
auth:
  jwt_secret: " `+testSecret+` "
`+engineBlock)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.OpsListenAddress != defaultOpsListen {
		t.Fatalf("unexpected ops address: %q", cfg.OpsListenAddress)
	}
	if !cfg.TLS.AllowInsecure {
		t.Fatalf("expected allow_insecure to propagate")
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Fatalf("expected trimmed jwt secret")
	}
	if cfg.Backend.Kind != BackendSim {
		t.Fatalf("expected sim backend by default, got %q", cfg.Backend.Kind)
	}
	owner, custody, _, liqCustody := cfg.Engine.Accounts()
	if owner != common.HexToAddress("0xa1") || custody == liqCustody {
		t.Fatalf("unexpected accounts %s %s %s", owner.Hex(), custody.Hex(), liqCustody.Hex())
	}
}

func TestLoadConfigSimBackend(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
auth:
  jwt_secret: "`+testSecret+`"
  leeway: 5s
log:
  file: /tmp/lendingd.log
backend:
  kind: SIM
  sim:
    close_factor: "0.5"
    block_interval: 12s
    tokens:
      - symbol: UNI
        decimals: 18
        collateral_factor: "0.75"
        price: "1"
        faucet:
          "0x00000000000000000000000000000000000000a1": "3000"
      - symbol: USDC
        decimals: 6
        collateral_factor: "0.8"
        price: "1"
        cash: "1000000"
`+engineBlock)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Backend.Kind != BackendSim || len(cfg.Backend.Sim.Tokens) != 2 {
		t.Fatalf("unexpected backend %+v", cfg.Backend)
	}
	if cfg.Backend.Sim.BlockInterval != 12*time.Second {
		t.Fatalf("unexpected block interval %s", cfg.Backend.Sim.BlockInterval)
	}
	if cfg.Auth.Leeway != 5*time.Second {
		t.Fatalf("unexpected leeway %s", cfg.Auth.Leeway)
	}
	if cfg.Log.MaxSizeMB != 100 {
		t.Fatalf("expected default log rotation size, got %d", cfg.Log.MaxSizeMB)
	}
}

func TestLoadConfigRejectsBadSimValues(t *testing.T) {
	cases := map[string]string{
		"price precision": `
      - symbol: USDC
        decimals: 6
        price: "1.0000000000000000001"`,
		"cash precision": `
      - symbol: USDC
        decimals: 6
        cash: "1.0000001"`,
		"duplicate symbol": `
      - symbol: UNI
        decimals: 18
      - symbol: uni
        decimals: 18`,
		"faucet account": `
      - symbol: UNI
        decimals: 18
        faucet:
          alice: "1"`,
	}
	for name, tokens := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, `
tls:
  allow_insecure: true
auth:
  jwt_secret: "`+testSecret+`"
backend:
  sim:
    tokens:`+tokens+engineBlock)
			if _, err := Load(path); err == nil {
				t.Fatal("expected sim validation error")
			}
		})
	}
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	path := writeConfig(t, `
listen: ":50053"
tls:
  allow_insecure: true
auth: {}
`+engineBlock)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when no jwt secret is configured")
	}

	path = writeConfig(t, `
tls:
  allow_insecure: true
auth:
  jwt_secret: short
`+engineBlock)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "32 bytes") {
		t.Fatalf("expected short secret error, got %v", err)
	}
}

func TestLoadConfigSecretFromEnv(t *testing.T) {
	t.Setenv("LENDINGD_TEST_SECRET", testSecret)
	path := writeConfig(t, `
tls:
  allow_insecure: true
auth:
  jwt_secret_env: LENDINGD_TEST_SECRET
`+engineBlock)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Fatal("expected secret to be read from the environment")
	}
}

func TestLoadConfigValidatesTLS(t *testing.T) {
	path := writeConfig(t, `
listen: ":50053"
tls:
  cert: "server.crt"
auth:
  jwt_secret: "`+testSecret+`"
`+engineBlock)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when tls key is missing")
	}
}

func TestLoadConfigValidatesMTLSDependencies(t *testing.T) {
	path := writeConfig(t, `
listen: ":50053"
tls:
  cert: "server.crt"
  key: "server.key"
auth:
  jwt_secret: "`+testSecret+`"
  mtls:
    allowed_common_names: [client]
`+engineBlock)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when mtls is configured without a client ca")
	}
}

func TestLoadConfigRequiresTLSMaterialUnlessInsecure(t *testing.T) {
	path := writeConfig(t, `
listen: ":50053"
auth:
  jwt_secret: "`+testSecret+`"
`+engineBlock)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when tls material missing without allow_insecure")
	}
}

func TestLoadConfigValidatesAccounts(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
auth:
  jwt_secret: "`+testSecret+`"
engine:
  owner: "0x00000000000000000000000000000000000000a1"
  custody: "0x00000000000000000000000000000000000000a2"
  liquidator_owner: "0x00000000000000000000000000000000000000b1"
  liquidator_custody: "0x00000000000000000000000000000000000000A2"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "must differ") {
		t.Fatalf("expected shared custody error, got %v", err)
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
auth:
  jwt_secret: "`+testSecret+`"
  api_tokens: [token]
`+engineBlock)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadConfigEVMBackend(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	t.Setenv("LENDINGD_TEST_KEY", "0x"+hex.EncodeToString(gethcrypto.FromECDSA(key)))

	path := writeConfig(t, `
tls:
  allow_insecure: true
auth:
  jwt_secret: "`+testSecret+`"
backend:
  kind: evm
  evm:
    rpc_url: " http://127.0.0.1:8545 "
    comptroller: "0x3d9819210A31b4961b30EF54bE2aeD79B9c9Cd3B"
    keys_env: [LENDINGD_TEST_KEY]
`+engineBlock)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Backend.EVM.RPCURL != "http://127.0.0.1:8545" {
		t.Fatalf("unexpected rpc url %q", cfg.Backend.EVM.RPCURL)
	}
	keys, err := cfg.Backend.EVM.LoadKeys()
	if err != nil {
		t.Fatalf("load keys: %v", err)
	}
	if gethcrypto.PubkeyToAddress(keys[0].PublicKey) != gethcrypto.PubkeyToAddress(key.PublicKey) {
		t.Fatal("loaded key does not match")
	}

	t.Setenv("LENDINGD_TEST_KEY", "")
	if _, err := cfg.Backend.EVM.LoadKeys(); err == nil {
		t.Fatal("expected error for empty key variable")
	}
}

func TestLoadConfigEVMRequiresKeys(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
auth:
  jwt_secret: "`+testSecret+`"
backend:
  kind: evm
  evm:
    rpc_url: "http://127.0.0.1:8545"
    comptroller: "0x3d9819210A31b4961b30EF54bE2aeD79B9c9Cd3B"
`+engineBlock)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when no signing keys are configured")
	}
}
