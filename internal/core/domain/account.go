package domain

// Account pairs an address with the chain it is being used on. Nonce is an
// advisory snapshot set by whichever adapter fetched it; it is always
// revalidated against the chain before a submission depends on it.
type Account struct {
	Address Address
	Chain   ChainID
	Nonce   *uint64
}

// NewAccount builds an account without a cached nonce.
func NewAccount(addr Address, chain ChainID) Account {
	return Account{Address: addr, Chain: chain}
}

// Ecosystem resolves the ecosystem of the account's chain.
func (a Account) Ecosystem() Ecosystem {
	return EcosystemOf(a.Chain)
}

// Key returns a canonical (chain, address) map key.
func (a Account) Key() string {
	return string(a.Chain) + "/" + a.Address.Key()
}

// WithNonce returns a copy carrying an advisory nonce snapshot.
func (a Account) WithNonce(n uint64) Account {
	a.Nonce = &n
	return a
}
