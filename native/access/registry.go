package access

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"gigescrow/storage"
)

// Role names a capability held by an identity.
type Role string

const (
	// RoleAdmin manages payment tokens, fees, roles and the operational switch.
	RoleAdmin Role = "admin"
	// RoleAdjudicator resolves disputes and may reassign contractors.
	RoleAdjudicator Role = "adjudicator"
)

var (
	// ErrUnknownRole is returned for role names outside the supported set.
	ErrUnknownRole = errors.New("access: unknown role")
	// ErrZeroIdentity is returned when the zero address is granted a role.
	ErrZeroIdentity = errors.New("access: identity must not be zero")
)

const roleKeyPrefix = "access/role/"

// ParseRole validates a role name.
func ParseRole(name string) (Role, error) {
	switch role := Role(strings.ToLower(strings.TrimSpace(name))); role {
	case RoleAdmin, RoleAdjudicator:
		return role, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
}

// Registry stores role membership. Members of each role are persisted as a
// sorted rlp list so the stored form is deterministic.
type Registry struct {
	mu      sync.RWMutex
	db      storage.Database
	members map[Role]map[common.Address]struct{}
}

// NewRegistry loads role membership from db. A nil db keeps the registry in
// memory only.
func NewRegistry(db storage.Database) (*Registry, error) {
	r := &Registry{db: db, members: make(map[Role]map[common.Address]struct{})}
	for _, role := range []Role{RoleAdmin, RoleAdjudicator} {
		r.members[role] = make(map[common.Address]struct{})
		if db == nil {
			continue
		}
		data, err := db.Get(roleKey(role))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var stored []common.Address
		if err := rlp.DecodeBytes(data, &stored); err != nil {
			return nil, fmt.Errorf("access: decode %s members: %w", role, err)
		}
		for _, addr := range stored {
			r.members[role][addr] = struct{}{}
		}
	}
	return r, nil
}

// HasRole reports whether identity holds role.
func (r *Registry) HasRole(identity common.Address, role Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.members[role]
	if !ok {
		return false
	}
	_, ok = set[identity]
	return ok
}

// Members returns the sorted members of role.
func (r *Registry) Members(role Role) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedMembers(r.members[role])
}

// Grant adds identity to role. It reports whether membership changed.
func (r *Registry) Grant(identity common.Address, role Role) (bool, error) {
	return r.update(identity, role, true)
}

// Revoke removes identity from role. It reports whether membership changed.
func (r *Registry) Revoke(identity common.Address, role Role) (bool, error) {
	return r.update(identity, role, false)
}

func (r *Registry) update(identity common.Address, role Role, grant bool) (bool, error) {
	if identity == (common.Address{}) {
		return false, ErrZeroIdentity
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[role]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	_, present := set[identity]
	if present == grant {
		return false, nil
	}
	next := make(map[common.Address]struct{}, len(set)+1)
	for addr := range set {
		next[addr] = struct{}{}
	}
	if grant {
		next[identity] = struct{}{}
	} else {
		delete(next, identity)
	}
	if r.db != nil {
		encoded, err := rlp.EncodeToBytes(sortedMembers(next))
		if err != nil {
			return false, err
		}
		if err := r.db.Put(roleKey(role), encoded); err != nil {
			return false, err
		}
	}
	r.members[role] = next
	return true, nil
}

func sortedMembers(set map[common.Address]struct{}) []common.Address {
	out := make([]common.Address, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func roleKey(role Role) []byte {
	return []byte(roleKeyPrefix + string(role))
}
