package orders

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Allowlist is the set of currencies accepted at order creation. The native
// currency is always a member.
type Allowlist struct {
	mu     sync.RWMutex
	tokens map[common.Address]struct{}
}

// NewAllowlist returns an allowlist containing the native currency and the
// supplied tokens.
func NewAllowlist(tokens ...common.Address) *Allowlist {
	a := &Allowlist{tokens: map[common.Address]struct{}{NativeCurrency: {}}}
	for _, token := range tokens {
		a.tokens[token] = struct{}{}
	}
	return a
}

// Contains reports whether currency is accepted.
func (a *Allowlist) Contains(currency common.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.tokens[currency]
	return ok
}

// List returns the accepted currencies in ascending address order, so the
// native sentinel is always first.
func (a *Allowlist) List() []common.Address {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]common.Address, 0, len(a.tokens))
	for token := range a.tokens {
		out = append(out, token)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (a *Allowlist) add(currency common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[currency] = struct{}{}
}

func (a *Allowlist) remove(currency common.Address) {
	if currency == NativeCurrency {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tokens, currency)
}
