package lending

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"mmlink/storage"
)

var (
	assetPrefix   = []byte("lending/asset/")
	assetIndexKey = []byte("lending/asset-index")
)

// Registry maps underlying assets to their money-market handles. Only the
// owner may add entries and entries are never removed.
type Registry struct {
	owner common.Address
	db    storage.Database

	mu     sync.RWMutex
	assets map[common.Address]SupportedAsset
}

// NewRegistry returns an in-memory registry owned by owner.
func NewRegistry(owner common.Address) *Registry {
	return &Registry{owner: owner, assets: make(map[common.Address]SupportedAsset)}
}

// OpenRegistry returns a registry persisted in db, loading any entries
// written by a previous process.
func OpenRegistry(owner common.Address, db storage.Database) (*Registry, error) {
	if db == nil {
		return nil, fmt.Errorf("registry: database required")
	}
	r := NewRegistry(owner)
	r.db = db
	index, err := r.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, raw := range index {
		id := common.BytesToAddress(raw)
		data, err := db.Get(assetKey(id))
		if err != nil {
			return nil, fmt.Errorf("registry: load %s: %w", id.Hex(), err)
		}
		var asset SupportedAsset
		if err := rlp.DecodeBytes(data, &asset); err != nil {
			return nil, fmt.Errorf("registry: decode %s: %w", id.Hex(), err)
		}
		r.assets[asset.AssetID] = asset
	}
	return r, nil
}

// Owner returns the address allowed to register assets.
func (r *Registry) Owner() common.Address { return r.owner }

// Register records asset on behalf of caller.
func (r *Registry) Register(caller common.Address, asset SupportedAsset) error {
	if caller != r.owner {
		return ErrUnauthorized
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.assets[asset.AssetID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, asset.AssetID.Hex())
	}
	if r.db != nil {
		if err := r.persist(asset); err != nil {
			return err
		}
	}
	r.assets[asset.AssetID] = asset
	return nil
}

// Resolve returns the registered entry for assetID.
func (r *Registry) Resolve(assetID common.Address) (SupportedAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	asset, ok := r.assets[assetID]
	if !ok {
		return SupportedAsset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID.Hex())
	}
	return asset, nil
}

// ResolveMarket finds the entry whose market handle is market.
func (r *Registry) ResolveMarket(market common.Address) (SupportedAsset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, asset := range r.assets {
		if asset.Market == market {
			return asset, true
		}
	}
	return SupportedAsset{}, false
}

// Assets lists registered entries ordered by asset address.
func (r *Registry) Assets() []SupportedAsset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SupportedAsset, 0, len(r.assets))
	for _, asset := range r.assets {
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].AssetID.Bytes(), out[j].AssetID.Bytes()) < 0
	})
	return out
}

func (r *Registry) persist(asset SupportedAsset) error {
	encoded, err := rlp.EncodeToBytes(&asset)
	if err != nil {
		return err
	}
	if err := r.db.Put(assetKey(asset.AssetID), encoded); err != nil {
		return err
	}
	index, err := r.loadIndex()
	if err != nil {
		return err
	}
	index = append(index, asset.AssetID.Bytes())
	encodedIndex, err := rlp.EncodeToBytes(index)
	if err != nil {
		return err
	}
	return r.db.Put(assetIndexKey, encodedIndex)
}

func (r *Registry) loadIndex() ([][]byte, error) {
	ok, err := r.db.Has(assetIndexKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return [][]byte{}, nil
	}
	data, err := r.db.Get(assetIndexKey)
	if err != nil {
		return nil, err
	}
	var index [][]byte
	if err := rlp.DecodeBytes(data, &index); err != nil {
		return nil, err
	}
	return index, nil
}

func assetKey(id common.Address) []byte {
	key := make([]byte, 0, len(assetPrefix)+common.AddressLength)
	key = append(key, assetPrefix...)
	return append(key, id.Bytes()...)
}
