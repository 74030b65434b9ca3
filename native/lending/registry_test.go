package lending

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"mmlink/storage"
)

var (
	registryOwner = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	uniAsset      = SupportedAsset{
		AssetID:  common.HexToAddress("0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"),
		Market:   common.HexToAddress("0x35A18000230DA775CAc24873d00Ff85BccdeD550"),
		Decimals: 18,
	}
	usdcAsset = SupportedAsset{
		AssetID:  common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Market:   common.HexToAddress("0x39AA39c021dfbaE8faC545936693aC917d5E7563"),
		Decimals: 6,
	}
)

// getCountingDB records reads so tests can see which keys were fetched.
type getCountingDB struct {
	storage.Database
	gets []string
}

func (db *getCountingDB) Get(key []byte) ([]byte, error) {
	db.gets = append(db.gets, string(key))
	return db.Database.Get(key)
}

func mustRegister(t *testing.T, r *Registry, asset SupportedAsset) {
	t.Helper()
	if err := r.Register(registryOwner, asset); err != nil {
		t.Fatalf("register %s: %v", asset.AssetID.Hex(), err)
	}
}

func TestRegistryOwnerOnly(t *testing.T) {
	r := NewRegistry(registryOwner)
	if err := r.Register(common.HexToAddress("0xbad"), uniAsset); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := r.Resolve(uniAsset.AssetID); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry(registryOwner)
	mustRegister(t, r, uniAsset)

	dup := uniAsset
	dup.Market = usdcAsset.Market
	if err := r.Register(registryOwner, dup); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	got, err := r.Resolve(uniAsset.AssetID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != uniAsset {
		t.Fatalf("existing mapping changed: %+v", got)
	}

	byMarket, ok := r.ResolveMarket(uniAsset.Market)
	if !ok || byMarket != uniAsset {
		t.Fatalf("expected %+v by market, got %+v (found=%v)", uniAsset, byMarket, ok)
	}
	if _, ok := r.ResolveMarket(usdcAsset.Market); ok {
		t.Fatalf("expected rejected duplicate market to stay unregistered")
	}
}

func TestRegistryAssetsSorted(t *testing.T) {
	r := NewRegistry(registryOwner)
	mustRegister(t, r, usdcAsset)
	mustRegister(t, r, uniAsset)
	if got := r.Assets(); !reflect.DeepEqual(got, []SupportedAsset{uniAsset, usdcAsset}) {
		t.Fatalf("unexpected order %+v", got)
	}
}

func TestRegistryReloadsFromDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r, err := OpenRegistry(registryOwner, db)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	if n := len(r.Assets()); n != 0 {
		t.Fatalf("expected empty registry, got %d assets", n)
	}
	mustRegister(t, r, uniAsset)
	mustRegister(t, r, usdcAsset)
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err = storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	reopened, err := OpenRegistry(registryOwner, db)
	if err != nil {
		t.Fatalf("reopen registry: %v", err)
	}
	if got := reopened.Assets(); !reflect.DeepEqual(got, []SupportedAsset{uniAsset, usdcAsset}) {
		t.Fatalf("unexpected reloaded assets %+v", got)
	}
	if err := reopened.Register(registryOwner, uniAsset); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered after reload, got %v", err)
	}
}

func TestOpenRegistryChecksIndexBeforeReading(t *testing.T) {
	db := &getCountingDB{Database: storage.NewMemDB()}
	r, err := OpenRegistry(registryOwner, db)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	if len(db.gets) != 0 {
		t.Fatalf("expected no reads from an empty database, got %v", db.gets)
	}

	mustRegister(t, r, uniAsset)
	db.gets = nil
	if _, err := OpenRegistry(registryOwner, db); err != nil {
		t.Fatalf("reopen registry: %v", err)
	}
	if len(db.gets) != 2 || db.gets[0] != string(assetIndexKey) {
		t.Fatalf("expected the index then one asset to be read, got %v", db.gets)
	}
}

func TestOpenRegistryRequiresDatabase(t *testing.T) {
	if _, err := OpenRegistry(registryOwner, nil); err == nil {
		t.Fatalf("expected error without a database")
	}
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.toml")
	contents := `
[[asset]]
symbol = "UNI"
asset  = "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"
market = " 0x35A18000230DA775CAc24873d00Ff85BccdeD550 "

[[asset]]
symbol = "USDC"
asset  = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
market = "0x39AA39c021dfbaE8faC545936693aC917d5E7563"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	seed, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if len(seed.Assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(seed.Assets))
	}
	if seed.Assets[0].Symbol != "UNI" {
		t.Fatalf("expected UNI first, got %s", seed.Assets[0].Symbol)
	}
	if seed.Assets[0].AssetAddress() != uniAsset.AssetID || seed.Assets[0].MarketAddress() != uniAsset.Market {
		t.Fatalf("unexpected UNI addresses %+v", seed.Assets[0])
	}
	if seed.Assets[1].MarketAddress() != usdcAsset.Market {
		t.Fatalf("unexpected USDC market %s", seed.Assets[1].Market)
	}
}

func TestLoadSeedRejectsBadAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.toml")
	contents := "[[asset]]\nsymbol = \"X\"\nasset = \"nope\"\nmarket = \"0x39AA39c021dfbaE8faC545936693aC917d5E7563\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	_, err := LoadSeed(path)
	if err == nil || !strings.Contains(err.Error(), "invalid asset address") {
		t.Fatalf("expected invalid asset address error, got %v", err)
	}
}
