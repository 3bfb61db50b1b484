package orders

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// partyIndex maps a party to the ids of its active orders. Add and remove are
// idempotent.
type partyIndex struct {
	mu  sync.RWMutex
	ids map[common.Address]map[uint64]struct{}
}

func newPartyIndex() *partyIndex {
	return &partyIndex{ids: make(map[common.Address]map[uint64]struct{})}
}

func (p *partyIndex) add(party common.Address, id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.ids[party]
	if !ok {
		set = make(map[uint64]struct{})
		p.ids[party] = set
	}
	set[id] = struct{}{}
}

func (p *partyIndex) remove(party common.Address, id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.ids[party]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(p.ids, party)
	}
}

func (p *partyIndex) contains(party common.Address, id uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.ids[party][id]
	return ok
}

// list returns the ids for party in ascending order.
func (p *partyIndex) list(party common.Address) []uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := p.ids[party]
	out := make([]uint64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
