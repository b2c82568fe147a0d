// Package custody implements the per-asset custodian ledger: each user
// holds an available and a locked balance, and every transfer is either
// a pure credit, a pure debit, or a move preserving available+locked.
package custody

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrAssetMismatch         = errors.New("balance asset mismatch")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAvailable = errors.New("insufficient available balance")
	ErrInsufficientLocked    = errors.New("insufficient locked balance")
)

// Asset tags a balance with the currency it denominates. Two balances
// only join when their assets agree.
type Asset string

// Balance is a value-typed carrier for a non-negative quantity of one
// asset. Value moves between balances only through Split and Join, so a
// unit is never duplicated by arithmetic on raw integers.
type Balance struct {
	asset Asset
	value uint64
}

// NewBalance mints a balance out of thin air. Only entry points that
// represent external deposits should call this.
func NewBalance(asset Asset, value uint64) Balance {
	return Balance{asset: asset, value: value}
}

// Zero returns an empty balance of the asset.
func Zero(asset Asset) Balance {
	return Balance{asset: asset}
}

func (b *Balance) Asset() Asset { return b.asset }

func (b *Balance) Value() uint64 { return b.value }

// Split carves qty off the balance into a new one.
func (b *Balance) Split(qty uint64) (Balance, error) {
	if b.value < qty {
		return Balance{}, ErrInsufficientBalance
	}
	b.value -= qty
	return Balance{asset: b.asset, value: qty}, nil
}

// Join absorbs the other balance into this one.
func (b *Balance) Join(other Balance) error {
	if b.asset != other.asset {
		return ErrAssetMismatch
	}
	b.value += other.value
	return nil
}

// AccountCap is the per-user capability handle. Holding the cap
// authorizes operations that reduce the owner's available balance; the
// owner id is the stable identity the ledger keys on.
type AccountCap struct {
	owner uuid.UUID
}

// NewAccountCap mints a capability for a fresh owner id.
func NewAccountCap() *AccountCap {
	return &AccountCap{owner: uuid.New()}
}

func (c *AccountCap) Owner() uuid.UUID { return c.owner }

// Account tracks one user's holdings of the custodian's asset.
type Account struct {
	available uint64
	locked    uint64
}

// Custodian is the ledger for a single asset. Accounts are created
// lazily on first touch and never destroyed.
type Custodian struct {
	asset    Asset
	accounts map[uuid.UUID]*Account
}

func NewCustodian(asset Asset) *Custodian {
	return &Custodian{
		asset:    asset,
		accounts: make(map[uuid.UUID]*Account),
	}
}

func (c *Custodian) Asset() Asset { return c.asset }

func (c *Custodian) account(owner uuid.UUID) *Account {
	acct, ok := c.accounts[owner]
	if !ok {
		acct = &Account{}
		c.accounts[owner] = acct
	}
	return acct
}

// Deposit credits the balance to the owner's available funds.
func (c *Custodian) Deposit(owner uuid.UUID, b Balance) error {
	if b.asset != c.asset {
		return ErrAssetMismatch
	}
	c.account(owner).available += b.value
	return nil
}

// Withdraw debits qty from the cap owner's available funds.
func (c *Custodian) Withdraw(cap *AccountCap, qty uint64) (Balance, error) {
	acct := c.account(cap.Owner())
	if acct.available < qty {
		return Balance{}, ErrInsufficientAvailable
	}
	acct.available -= qty
	return Balance{asset: c.asset, value: qty}, nil
}

// Lock moves qty of the cap owner's funds from available to locked.
func (c *Custodian) Lock(cap *AccountCap, qty uint64) error {
	acct := c.account(cap.Owner())
	if acct.available < qty {
		return ErrInsufficientAvailable
	}
	acct.available -= qty
	acct.locked += qty
	return nil
}

// Unlock moves qty from locked back to available. No capability is
// required: expiry sweeps and cancels release collateral on behalf of
// the recorded owner.
func (c *Custodian) Unlock(owner uuid.UUID, qty uint64) error {
	acct := c.account(owner)
	if acct.locked < qty {
		return ErrInsufficientLocked
	}
	acct.locked -= qty
	acct.available += qty
	return nil
}

// DecreaseLocked debits qty from the owner's locked funds and hands it
// back as a balance. Settlement building block: the matched maker's
// locked collateral is reduced and redistributed from the returned
// balance.
func (c *Custodian) DecreaseLocked(owner uuid.UUID, qty uint64) (Balance, error) {
	acct := c.account(owner)
	if acct.locked < qty {
		return Balance{}, ErrInsufficientLocked
	}
	acct.locked -= qty
	return Balance{asset: c.asset, value: qty}, nil
}

// IncreaseAvailable credits the balance to the owner's available funds.
func (c *Custodian) IncreaseAvailable(owner uuid.UUID, b Balance) error {
	return c.Deposit(owner, b)
}

// Available returns the owner's available funds.
func (c *Custodian) Available(owner uuid.UUID) uint64 {
	if acct, ok := c.accounts[owner]; ok {
		return acct.available
	}
	return 0
}

// Locked returns the owner's locked funds.
func (c *Custodian) Locked(owner uuid.UUID) uint64 {
	if acct, ok := c.accounts[owner]; ok {
		return acct.locked
	}
	return 0
}

// AccountBalance returns the owner's (available, locked) pair.
func (c *Custodian) AccountBalance(owner uuid.UUID) (available, locked uint64) {
	if acct, ok := c.accounts[owner]; ok {
		return acct.available, acct.locked
	}
	return 0, 0
}

// TotalBalance sums available+locked across all owners. Conservation
// checks in tests rely on it.
func (c *Custodian) TotalBalance() uint64 {
	var total uint64
	for _, acct := range c.accounts {
		total += acct.available + acct.locked
	}
	return total
}
