/*
Package access is the capability-check layer consulted at the start of every
privileged vesting operation.

CAPABILITIES:
  administrator    - add plans, connect beneficiaries, start/stop vesting
  vesting_manager  - settle terminated escrows back to the treasury
  owner            - implicitly holds every capability and may grant or
                     revoke the others

Checks return a typed *AuthorizationError (errors.Is ErrUnauthorized)
instead of a bare boolean, so callers never branch ad hoc on roles.

PERSISTENCE:
  Roles lives in memory. The service rebuilds it from the roles section of
  its configuration on every start, so grants and revocations made at
  runtime (POST/DELETE /api/admin/roles) are lost on restart unless they
  are also written to the configuration.
*/
package access

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/vesting-engine/token"
)

type Capability string

const (
	CapOwner          Capability = "owner"
	CapAdministrator  Capability = "administrator"
	CapVestingManager Capability = "vesting_manager"
	CapBeneficiary    Capability = "beneficiary"
)

func ParseCapability(s string) (Capability, error) {
	switch c := Capability(s); c {
	case CapAdministrator, CapVestingManager:
		return c, nil
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

var ErrUnauthorized = errors.New("unauthorized")

// AuthorizationError reports a caller lacking a capability.
type AuthorizationError struct {
	Caller     token.Address
	Capability Capability
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("unauthorized: %q lacks %s", e.Caller, e.Capability)
}

func (e *AuthorizationError) Unwrap() error { return ErrUnauthorized }

func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// Checker answers capability questions for the allocator.
type Checker interface {
	IsAdministrator(addr token.Address) bool
	HasVestingManagerRole(addr token.Address) bool
}

// RequireAdministrator fails unless caller is an administrator.
func RequireAdministrator(c Checker, caller token.Address) error {
	if caller.IsZero() || !c.IsAdministrator(caller) {
		return &AuthorizationError{Caller: caller, Capability: CapAdministrator}
	}
	return nil
}

// RequireVestingManager fails unless caller holds the vesting manager role.
func RequireVestingManager(c Checker, caller token.Address) error {
	if caller.IsZero() || !c.HasVestingManagerRole(caller) {
		return &AuthorizationError{Caller: caller, Capability: CapVestingManager}
	}
	return nil
}

// RequireSelf fails unless caller is the beneficiary itself.
func RequireSelf(caller, beneficiary token.Address) error {
	if caller.IsZero() || caller != beneficiary {
		return &AuthorizationError{Caller: caller, Capability: CapBeneficiary}
	}
	return nil
}

// =============================================================================
// ROLES - In-memory role table
// =============================================================================

type Roles struct {
	mu      sync.RWMutex
	owner   token.Address
	members map[Capability]map[token.Address]bool
}

var _ Checker = (*Roles)(nil)

func NewRoles(owner token.Address) *Roles {
	return &Roles{
		owner: owner,
		members: map[Capability]map[token.Address]bool{
			CapAdministrator:  {},
			CapVestingManager: {},
		},
	}
}

func (r *Roles) Owner() token.Address { return r.owner }

// RequireOwner fails unless caller is the owner.
func (r *Roles) RequireOwner(caller token.Address) error {
	if caller.IsZero() || caller != r.owner {
		return &AuthorizationError{Caller: caller, Capability: CapOwner}
	}
	return nil
}

func (r *Roles) IsAdministrator(addr token.Address) bool {
	return r.has(CapAdministrator, addr)
}

func (r *Roles) HasVestingManagerRole(addr token.Address) bool {
	return r.has(CapVestingManager, addr)
}

func (r *Roles) has(c Capability, addr token.Address) bool {
	if addr.IsZero() {
		return false
	}
	if addr == r.owner {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members[c][addr]
}

// Grant gives addr a capability. Only the owner may grant.
func (r *Roles) Grant(caller token.Address, c Capability, addr token.Address) error {
	if err := r.RequireOwner(caller); err != nil {
		return err
	}
	if _, ok := r.members[c]; !ok || addr.IsZero() {
		return fmt.Errorf("cannot grant %s to %q", c, addr)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[c][addr] = true
	return nil
}

// Revoke removes a capability. Only the owner may revoke.
func (r *Roles) Revoke(caller token.Address, c Capability, addr token.Address) error {
	if err := r.RequireOwner(caller); err != nil {
		return err
	}
	if _, ok := r.members[c]; !ok {
		return fmt.Errorf("cannot revoke %s", c)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[c], addr)
	return nil
}

// Members lists holders of a capability in address order, excluding the
// implicit owner.
func (r *Roles) Members(c Capability) []token.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []token.Address
	for addr := range r.members[c] {
		result = append(result, addr)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
