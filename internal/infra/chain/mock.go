package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/events"
	"github.com/vietddude/apex/internal/infra/chain/substrate"
)

// MockAdapter is an in-memory Adapter for tests. State is seeded through
// setters and every interface method is counted, so tests can assert both
// outcomes and traffic. Safe for concurrent use.
type MockAdapter struct {
	chain domain.ChainID
	bus   *events.Bus

	mu            sync.Mutex
	head          domain.Block
	balances      map[string]*big.Int
	nonces        map[string]uint64
	receipts      map[domain.TxHash]*domain.Receipt
	submitted     []*domain.SignedTransaction
	fee            *big.Int
	failWith       error
	failRemaining  int
	failSubmit     error
	failSubmitLeft int
	confirmStatus  domain.TxStatus
	calls          map[string]int
}

var _ Adapter = (*MockAdapter)(nil)

func NewMockAdapter(chain domain.ChainID) *MockAdapter {
	return &MockAdapter{
		chain:    chain,
		bus:      events.NewBus(),
		head:     domain.Block{ChainID: chain, Number: 100, Hash: "0xmockhead"},
		balances: make(map[string]*big.Int),
		nonces:   make(map[string]uint64),
		receipts: make(map[domain.TxHash]*domain.Receipt),
		fee:      big.NewInt(21_000),
		calls:    make(map[string]int),
	}
}

// SetHead moves the mock chain head.
func (m *MockAdapter) SetHead(number uint64, hash string) {
	m.mu.Lock()
	m.head = domain.Block{ChainID: m.chain, Number: number, Hash: hash}
	m.mu.Unlock()
}

// SetBalance seeds an account balance.
func (m *MockAdapter) SetBalance(account domain.Account, amount *big.Int) {
	m.mu.Lock()
	m.balances[account.Address.Key()] = new(big.Int).Set(amount)
	m.mu.Unlock()
}

// SetNonce seeds the next nonce for an account.
func (m *MockAdapter) SetNonce(account domain.Account, nonce uint64) {
	m.mu.Lock()
	m.nonces[account.Address.Key()] = nonce
	m.mu.Unlock()
}

// SetReceipt seeds a receipt returned by TxStatus and, once settled,
// WaitForConfirmation.
func (m *MockAdapter) SetReceipt(hash domain.TxHash, receipt *domain.Receipt) {
	m.mu.Lock()
	m.receipts[hash] = receipt
	m.mu.Unlock()
}

// SetFee seeds the EstimateFee result.
func (m *MockAdapter) SetFee(fee *big.Int) {
	m.mu.Lock()
	m.fee = new(big.Int).Set(fee)
	m.mu.Unlock()
}

// FailWith makes every subsequent call return err until cleared with nil.
func (m *MockAdapter) FailWith(err error) {
	m.mu.Lock()
	m.failWith = err
	m.failRemaining = 0
	m.mu.Unlock()
}

// FailTimes makes the next n calls return err, then recover.
func (m *MockAdapter) FailTimes(err error, n int) {
	m.mu.Lock()
	m.failWith = err
	m.failRemaining = n
	m.mu.Unlock()
}

// FailSubmitTimes makes only Submit reject with err for its next n calls.
// Rejected transactions are not recorded; the pool never saw them.
func (m *MockAdapter) FailSubmitTimes(err error, n int) {
	m.mu.Lock()
	m.failSubmit = err
	m.failSubmitLeft = n
	m.mu.Unlock()
}

// ConfirmOnSubmit makes Submit immediately record a settled receipt with
// the given status, so a following WaitForConfirmation returns at once.
func (m *MockAdapter) ConfirmOnSubmit(status domain.TxStatus) {
	m.mu.Lock()
	m.confirmStatus = status
	m.mu.Unlock()
}

// Submitted returns a copy of every transaction passed to Submit.
func (m *MockAdapter) Submitted() []*domain.SignedTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.SignedTransaction, len(m.submitted))
	copy(out, m.submitted)
	return out
}

// Calls reports how many times the named method ran.
func (m *MockAdapter) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// ResetCalls clears the per-method counters.
func (m *MockAdapter) ResetCalls() {
	m.mu.Lock()
	m.calls = make(map[string]int)
	m.mu.Unlock()
}

func (m *MockAdapter) Bus() *events.Bus {
	return m.bus
}

func (m *MockAdapter) record(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
	if m.failWith == nil {
		return nil
	}
	err := m.failWith
	if m.failRemaining > 0 {
		m.failRemaining--
		if m.failRemaining == 0 {
			m.failWith = nil
		}
	}
	return err
}

func (m *MockAdapter) ChainID() domain.ChainID {
	return m.chain
}

func (m *MockAdapter) Ecosystem() domain.Ecosystem {
	return domain.EcosystemOf(m.chain)
}

func (m *MockAdapter) LatestBlock(ctx context.Context) (*domain.Block, error) {
	if err := m.record("LatestBlock"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	head := m.head
	return &head, nil
}

func (m *MockAdapter) Balance(ctx context.Context, account domain.Account) (*big.Int, error) {
	if err := m.record("Balance"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if balance, ok := m.balances[account.Address.Key()]; ok {
		return new(big.Int).Set(balance), nil
	}
	return new(big.Int), nil
}

func (m *MockAdapter) Nonce(ctx context.Context, account domain.Account) (uint64, error) {
	if err := m.record("Nonce"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonces[account.Address.Key()], nil
}

// Submit records the transaction and advances the account's nonce the way
// a real node's pending view would. With ConfirmOnSubmit armed it also
// stores a settled receipt one block above the current head.
func (m *MockAdapter) Submit(ctx context.Context, tx *domain.SignedTransaction) (domain.TxHash, error) {
	if err := m.record("Submit"); err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.failSubmit != nil {
		err := m.failSubmit
		if m.failSubmitLeft > 0 {
			m.failSubmitLeft--
			if m.failSubmitLeft == 0 {
				m.failSubmit = nil
			}
		}
		m.mu.Unlock()
		return "", err
	}
	m.submitted = append(m.submitted, tx)
	if !tx.From.Address.IsZero() {
		m.nonces[tx.From.Address.Key()] = tx.Nonce + 1
	}
	hash := tx.Hash
	if hash == "" {
		hash = domain.TxHash(fmt.Sprintf("0xmock%04d", len(m.submitted)))
	}
	if m.confirmStatus != "" {
		m.receipts[hash] = &domain.Receipt{
			TxHash:        hash,
			ChainID:       m.chain,
			Status:        m.confirmStatus,
			BlockNumber:   m.head.Number + 1,
			BlockHash:     "0xmockblock",
			Confirmations: 1,
		}
	}
	m.mu.Unlock()

	m.bus.Emit(ctx, &domain.Event{
		ID:      fmt.Sprintf("mock-%s", hash),
		Type:    domain.EventTypeTransactionSubmitted,
		ChainID: m.chain,
		TxHash:  hash,
	})
	return hash, nil
}

func (m *MockAdapter) TxStatus(ctx context.Context, hash domain.TxHash) (*domain.Receipt, error) {
	if err := m.record("TxStatus"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if receipt, ok := m.receipts[hash]; ok {
		out := *receipt
		return &out, nil
	}
	return &domain.Receipt{TxHash: hash, ChainID: m.chain, Status: domain.TxStatusUnknown}, nil
}

// WaitForConfirmation polls the seeded receipts until a settled one
// appears or the policy deadline passes.
func (m *MockAdapter) WaitForConfirmation(ctx context.Context, hash domain.TxHash, policy domain.ConfirmPolicy) (*domain.Receipt, error) {
	if err := m.record("WaitForConfirmation"); err != nil {
		return nil, err
	}

	if policy.PollInterval <= 0 {
		policy.PollInterval = time.Millisecond
	}
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(policy.PollInterval)
	defer ticker.Stop()

	for {
		m.mu.Lock()
		receipt, ok := m.receipts[hash]
		m.mu.Unlock()
		if ok && (receipt.Status.Settled() || receipt.Status == domain.TxStatusConfirmed) {
			out := *receipt
			return &out, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", domain.ErrConfirmationTimeout, hash)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *MockAdapter) EstimateFee(ctx context.Context, intent *domain.TransactionIntent) (*big.Int, error) {
	if err := m.record("EstimateFee"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.fee), nil
}

func (m *MockAdapter) ValidateAddress(raw string) (domain.Address, error) {
	return domain.ParseAddressFor(raw, domain.EcosystemOf(m.chain))
}

// NumericChainID parses the decimal chain id, satisfying the EVM signing
// surface the builder asserts against.
func (m *MockAdapter) NumericChainID() *big.Int {
	id := new(big.Int)
	if _, ok := id.SetString(string(m.chain), 10); !ok {
		return big.NewInt(0)
	}
	return id
}

// SuggestFees returns fixed dynamic-fee caps (2 gwei fee cap, 1 gwei tip).
func (m *MockAdapter) SuggestFees(ctx context.Context) (*big.Int, *big.Int, error) {
	if err := m.record("SuggestFees"); err != nil {
		return nil, nil, err
	}
	return big.NewInt(2_000_000_000), big.NewInt(1_000_000_000), nil
}

func (m *MockAdapter) GasLimitFor(ctx context.Context, intent *domain.TransactionIntent) (uint64, error) {
	if intent.GasLimit > 0 {
		return intent.GasLimit, nil
	}
	return 21_000, nil
}

// Runtime satisfies the Substrate signing surface. The genesis hash is
// taken from the chain id when it is one, so built extrinsics verify
// against the registry chains.
func (m *MockAdapter) Runtime(ctx context.Context) (substrate.RuntimeContext, error) {
	if err := m.record("Runtime"); err != nil {
		return substrate.RuntimeContext{}, err
	}
	genesis, err := hex.DecodeString(strings.TrimPrefix(string(m.chain), "0x"))
	if err != nil || len(genesis) != 32 {
		genesis = make([]byte, 32)
	}
	return substrate.RuntimeContext{SpecVersion: 1, TxVersion: 1, GenesisHash: genesis}, nil
}

func (m *MockAdapter) SubscribeEvents(filter events.Filter) (*events.Subscription, error) {
	filter.Chains = []domain.ChainID{m.chain}
	return m.bus.Subscribe(filter), nil
}
