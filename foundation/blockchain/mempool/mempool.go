// Package mempool maintains the mempool for the blockchain.
package mempool

import (
	"sort"
	"sync"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/mempool/selector"
)

// Set of order sides reported to the oracle.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// priceTolerancePct is the allowed drift between a transaction's price and
// the oracle's current price before the price is corrected.
const priceTolerancePct = 1

// Oracle represents the behavior of the price oracle used to price market
// transactions.
type Oracle interface {
	CurrentMarketPrice() int64
	AddOrder(price int64, amount int64, side string)
}

// BalanceFunc returns the balance available to the specified account.
type BalanceFunc func(accountID database.AccountID) int64

// =============================================================================

// entry is a pending transaction with its arrival sequence.
type entry struct {
	tx  database.Tx
	seq uint64
}

// Mempool represents a cache of transactions keyed by transaction hash.
type Mempool struct {
	mu       sync.RWMutex
	pool     map[string]entry
	seq      uint64
	oracle   Oracle
	selectFn selector.Func
}

// New constructs a new mempool using the default select strategy.
func New(oracle Oracle) (*Mempool, error) {
	return NewWithStrategy(selector.StrategyFee, oracle)
}

// NewWithStrategy constructs a new mempool with specified select strategy.
func NewWithStrategy(strategy string, oracle Oracle) (*Mempool, error) {
	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	mp := Mempool{
		pool:     make(map[string]entry),
		oracle:   oracle,
		selectFn: selectFn,
	}

	return &mp, nil
}

// Count returns the current number of transaction in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Add admits a transaction into the pool. It returns false with no error
// when the transaction is already pending. Market transactions are priced
// against the oracle and may be corrected in place, so the admitted
// transaction is returned. The balance function may read the pool.
func (mp *Mempool) Add(tx database.Tx, balance BalanceFunc) (database.Tx, bool, error) {
	if tx.Value <= 0 {
		return tx, false, database.NewValidationError("amount must be positive, got %d", tx.Value)
	}

	if tx.IsCoinbase() {
		return tx, false, database.NewValidationError("coinbase transactions can't be pooled")
	}

	if mp.Contains(tx.Hash) {
		return tx, false, nil
	}

	side := ""
	switch tx.Kind {
	case database.KindPurchase:
		if tx.From != database.MarketID {
			return tx, false, database.NewValidationError("purchase must be sent by %s, got %s", database.MarketID, tx.From)
		}
		side = SideBuy

	case database.KindSell:
		if tx.To != database.MarketID {
			return tx, false, database.NewValidationError("sell must be sent to %s, got %s", database.MarketID, tx.To)
		}
		side = SideSell
	}

	if !tx.From.IsPrivileged() && tx.Kind != database.KindAdjustment {
		if bal := balance(tx.From); bal < tx.Cost() {
			return tx, false, database.NewValidationError("insufficient funds for %s, balance %d, needed %d", tx.From, bal, tx.Cost())
		}
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[tx.Hash]; exists {
		return tx, false, nil
	}

	if side != "" {
		tx = mp.price(tx, side)

		if _, exists := mp.pool[tx.Hash]; exists {
			return tx, false, nil
		}
	}

	mp.seq++
	mp.pool[tx.Hash] = entry{tx: tx, seq: mp.seq}

	return tx, true, nil
}

// Remove deletes a transaction from the mempool.
func (mp *Mempool) Remove(tx database.Tx) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	delete(mp.pool, tx.Hash)
}

// RemoveHashes deletes every transaction with a hash in the list.
func (mp *Mempool) RemoveHashes(hashes []string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, hash := range hashes {
		delete(mp.pool, hash)
	}
}

// Contains reports whether a transaction with the hash is pending.
func (mp *Mempool) Contains(hash string) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, exists := mp.pool[hash]
	return exists
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]entry)
}

// Copy returns the pending transactions in arrival order.
func (mp *Mempool) Copy() []database.Tx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.ordered()
}

// PickBest uses the configured select strategy to return the next set
// of transactions for the next block. Pass -1 for all the transactions.
func (mp *Mempool) PickBest(howMany int) []database.Tx {
	mp.mu.RLock()
	txs := mp.ordered()
	mp.mu.RUnlock()

	return mp.selectFn(txs, howMany)
}

// Delta returns the net change pending transactions apply to the account.
func (mp *Mempool) Delta(accountID database.AccountID) int64 {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	var delta int64
	for _, e := range mp.pool {
		if e.tx.To == accountID {
			delta += e.tx.Value
		}
		if e.tx.From == accountID {
			delta -= e.tx.Cost()
		}
	}

	return delta
}

// =============================================================================

// price checks the transaction price against the oracle. A price that drifts
// more than the tolerance is replaced by the oracle price and the hash is
// recomputed. The order is always reported to the oracle.
func (mp *Mempool) price(tx database.Tx, side string) database.Tx {
	if mp.oracle == nil {
		return tx
	}

	market := mp.oracle.CurrentMarketPrice()

	diff := tx.Price - market
	if diff < 0 {
		diff = -diff
	}

	if tx.Price <= 0 || diff*100 > market*priceTolerancePct {
		tx.Price = market
		tx.Hash = tx.ComputeHash()
	}

	mp.oracle.AddOrder(tx.Price, tx.Value, side)

	return tx
}

// ordered returns the pool in arrival order. The caller must hold the lock.
func (mp *Mempool) ordered() []database.Tx {
	entries := make([]entry, 0, len(mp.pool))
	for _, e := range mp.pool {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})

	txs := make([]database.Tx, len(entries))
	for i, e := range entries {
		txs[i] = e.tx
	}

	return txs
}
