package hub

import (
	"sync"

	"github.com/arkth-araya/bbc1/netcore/id"
)

// StaticAddress is one entry of a DomainConfig's static-node or peer-list
// maps: the address triple persisted alongside a node id.
type StaticAddress struct {
	IPv4 string
	IPv6 string
	Port uint16
}

// DomainConfig is the persisted shape of one domain's configuration,
// matching spec.md §6's "Persisted state (config)" table exactly. Full
// config-file parsing is out of scope (spec.md §1's Non-goals); this is
// just the contract NetworkHub needs against whatever storage backs it.
type DomainConfig struct {
	NodeID             string
	Module             string
	StaticNodes        map[string]StaticAddress
	PeerList           map[string]StaticAddress
	AssetGroupIDs      map[string]struct{}
	StorageType        string
	StoragePath        string
	AdvertiseInDomain0 bool
	SpecialDomain      bool
}

// ConfigStore is the external collaborator that persists DomainConfig
// values. It mirrors original_source/bbc1/core/bbc_network.py's
// self.config.get_domain / update_domain / save, which that file calls but
// never defines either — config persistence is an external collaborator
// there too.
type ConfigStore interface {
	GetDomain(domainID id.DomainId) (DomainConfig, bool)
	UpdateDomain(domainID id.DomainId, patch DomainConfig)
	Save() error
}

// MemoryConfigStore is an in-memory ConfigStore, sufficient for tests and
// for a node that doesn't need config to survive a restart.
type MemoryConfigStore struct {
	mu      sync.Mutex
	domains map[id.DomainId]DomainConfig
}

// NewMemoryConfigStore creates an empty in-memory config store.
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{domains: make(map[id.DomainId]DomainConfig)}
}

func (s *MemoryConfigStore) GetDomain(domainID id.DomainId) (DomainConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.domains[domainID]
	return cfg, ok
}

// UpdateDomain stores patch as the whole config for domainID, creating the
// entry if none exists yet. Fields left zero in patch are stored as zero;
// they are not carried over from the previously stored config.
func (s *MemoryConfigStore) UpdateDomain(domainID id.DomainId, patch DomainConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domains[domainID] = patch
}

// Save is a no-op: the in-memory store has nothing further to flush.
func (s *MemoryConfigStore) Save() error { return nil }
