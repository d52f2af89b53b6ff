package state

import (
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// AddTransaction validates a transaction and admits it into the mempool.
// It reports false with no error when the transaction is already pending
// or confirmed so callers relay it only once. The returned transaction
// carries the oracle price when the mempool re-priced it.
func (s *State) AddTransaction(tx database.Tx) (database.Tx, bool, error) {
	if tx.IsCoinbase() {
		return tx, false, database.NewValidationError("tx %s: coinbase transactions are only created by mining", tx.Hash)
	}

	if err := tx.Validate(s.verifier); err != nil {
		return tx, false, err
	}

	tx, added, err := s.addTransaction(tx)
	if err != nil || !added {
		return tx, added, err
	}

	s.evHandler("state: AddTransaction: tx[%s]: from[%s]: to[%s]: amount[%d]: fee[%d]", tx.Hash, tx.From, tx.To, tx.Value, tx.Fee)

	s.Worker.SignalStartMining()

	return tx, true, nil
}

// addTransaction performs the mempool admission under the ledger lock.
func (s *State) addTransaction(tx database.Tx) (database.Tx, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db.HasTransaction(tx.Hash) {
		return tx, false, nil
	}

	return s.mempool.Add(tx, s.balance)
}

// KnownTransaction reports whether the transaction is pending or confirmed.
func (s *State) KnownTransaction(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.mempool.Contains(hash) || s.db.HasTransaction(hash)
}

// balance returns the confirmed balance plus the pending mempool delta. The
// caller must hold the lock.
func (s *State) balance(accountID database.AccountID) int64 {
	return s.db.Balance(accountID) + s.mempool.Delta(accountID)
}
