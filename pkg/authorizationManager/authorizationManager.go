package authorizationManager

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidAuthority is returned when the authority is the zero address
var ErrInvalidAuthority = errors.New("invalid authority: zero address")

// IAuthorityRegistry answers whether an address may sign withdrawal authorizations.
// The vault only depends on this interface, so a signer set or threshold scheme
// can replace the single authority below.
type IAuthorityRegistry interface {
	IsAuthorized(candidate common.Address) bool
}

// AuthorizationManager holds the single trusted authority. It is immutable.
type AuthorizationManager struct {
	authority common.Address
}

// Ensure AuthorizationManager implements IAuthorityRegistry
var _ IAuthorityRegistry = (*AuthorizationManager)(nil)

// NewAuthorizationManager registers authority as the sole withdrawal signer.
// The zero address is rejected with ErrInvalidAuthority.
func NewAuthorizationManager(authority common.Address) (*AuthorizationManager, error) {
	if authority == (common.Address{}) {
		return nil, ErrInvalidAuthority
	}
	return &AuthorizationManager{authority: authority}, nil
}

// IsAuthorized returns true iff candidate is the registered authority
func (am *AuthorizationManager) IsAuthorized(candidate common.Address) bool {
	return candidate == am.authority
}

// Authority returns the registered signer address
func (am *AuthorizationManager) Authority() common.Address {
	return am.authority
}
