package state

import (
	"math/big"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
)

// Difficulty represents the current proof of work requirement.
type Difficulty struct {
	Bits       uint32
	Target     *big.Int
	LeadingBit int
}

// Genesis returns a copy of the genesis information.
func (s *State) Genesis() genesis.Genesis {
	return s.genesis
}

// MinerAccountID returns the account id receiving mining rewards.
func (s *State) MinerAccountID() database.AccountID {
	return s.minerAccountID
}

// Balance returns the confirmed balance of the account plus the net effect
// of its pending transactions. The result can be negative.
func (s *State) Balance(accountID database.AccountID) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balance(accountID)
}

// Accounts returns a copy of the confirmed account balances.
func (s *State) Accounts() []database.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.CopyAccounts()
}

// TotalSupply returns the total amount minted so far.
func (s *State) TotalSupply() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.Supply()
}

// Difficulty returns the current difficulty for the next block.
func (s *State) Difficulty() Difficulty {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Difficulty{
		Bits:       s.db.Bits(),
		Target:     s.db.Target(),
		LeadingBit: database.DifficultyBits(s.db.Bits()),
	}
}

// Height returns the index of the latest block.
func (s *State) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.Height()
}

// LatestBlock returns the tip of the chain.
func (s *State) LatestBlock() database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.LatestBlock()
}

// HasBlock reports whether the block is part of the local chain.
func (s *State) HasBlock(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.HasBlock(hash)
}

// Blocks returns a copy of the full chain.
func (s *State) Blocks() []database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.Blocks()
}

// BlockRange returns the blocks with index in [start, end]. The end is
// clamped to the tip.
func (s *State) BlockRange(start uint64, end uint64) []database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.Range(start, end)
}

// TransactionProof returns the merkle proof that the confirmed transaction
// is part of its block.
func (s *State) TransactionProof(hash string) (database.TxProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.db.HasTransaction(hash) {
		return database.TxProof{}, ErrTxNotFound
	}

	blocks := s.db.Blocks()
	for i := len(blocks) - 1; i >= 0; i-- {
		for _, tx := range blocks[i].Values() {
			if tx.Hash == hash {
				return blocks[i].Proof(tx)
			}
		}
	}

	return database.TxProof{}, ErrTxNotFound
}

// Mempool returns a copy of the pending transactions in arrival order.
func (s *State) Mempool() []database.Tx {
	return s.mempool.Copy()
}

// MempoolLength returns the number of pending transactions.
func (s *State) MempoolLength() int {
	return s.mempool.Count()
}
