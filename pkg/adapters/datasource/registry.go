package datasource

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

// AdapterInfo describes a registered adapter for the API surface.
type AdapterInfo struct {
	Dialect     models.Dialect `json:"dialect"`
	DisplayName string         `json:"display_name"`
	Description string         `json:"description"`
}

type registration struct {
	info    AdapterInfo
	adapter Adapter
}

var (
	registryMu sync.RWMutex
	registry   = make(map[models.Dialect]registration)
)

// Register is called by each dialect package's init(). Thread-safe for
// concurrent init() calls.
func Register(info AdapterInfo, adapter Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[info.Dialect] = registration{info: info, adapter: adapter}
}

// Get returns the adapter for a dialect or an error naming the dialect.
func Get(dialect models.Dialect) (Adapter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	reg, ok := registry[dialect]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for dialect %q", dialect)
	}
	return reg.adapter, nil
}

// RegisteredAdapters returns info for every registered dialect, sorted for
// stable API output.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		out = append(out, reg.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dialect < out[j].Dialect })
	return out
}
