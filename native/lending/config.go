package lending

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Seed lists assets to register when an engine boots.
type Seed struct {
	Assets []AssetSeed `toml:"asset"`
}

// AssetSeed is one [[asset]] entry of a seed file.
type AssetSeed struct {
	Symbol string `toml:"symbol"`
	Asset  string `toml:"asset"`
	Market string `toml:"market"`
}

// LoadSeed decodes a TOML seed file such as
//
//	[[asset]]
//	symbol = "UNI"
//	asset  = "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"
//	market = "0x35A18000230DA775CAc24873d00Ff85BccdeD550"
func LoadSeed(path string) (Seed, error) {
	var seed Seed
	if _, err := toml.DecodeFile(path, &seed); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	for i := range seed.Assets {
		if err := seed.Assets[i].validate(); err != nil {
			return Seed{}, fmt.Errorf("seed asset %d: %w", i, err)
		}
	}
	return seed, nil
}

func (s *AssetSeed) validate() error {
	s.Symbol = strings.TrimSpace(s.Symbol)
	s.Asset = strings.TrimSpace(s.Asset)
	s.Market = strings.TrimSpace(s.Market)
	if !common.IsHexAddress(s.Asset) {
		return fmt.Errorf("invalid asset address %q", s.Asset)
	}
	if !common.IsHexAddress(s.Market) {
		return fmt.Errorf("invalid market address %q", s.Market)
	}
	return nil
}

// AssetAddress returns the parsed underlying token address.
func (s AssetSeed) AssetAddress() common.Address { return common.HexToAddress(s.Asset) }

// MarketAddress returns the parsed market handle.
func (s AssetSeed) MarketAddress() common.Address { return common.HexToAddress(s.Market) }
