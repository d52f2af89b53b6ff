package state

import (
	"fmt"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// ValidateChain checks a full chain against the consensus rules. The chain
// must start with this network's genesis block and every block must link to
// its parent, carry a consistent hash and merkle root, satisfy its own proof
// of work and pay no more than the scheduled reward. Every sender must be able
// to fund its transactions in chain order.
func (s *State) ValidateChain(blocks []database.Block) error {
	if len(blocks) == 0 {
		return database.NewValidationError("chain is empty")
	}

	genesisBlock := database.GenesisBlock(s.genesis.MaxBits)
	if blocks[0].Header.Index != 0 || blocks[0].Hash() != genesisBlock.Hash() {
		return database.NewValidationError("chain does not start with the genesis block, got %s, exp %s", blocks[0].Hash(), genesisBlock.Hash())
	}

	if len(blocks[0].Values()) != 0 {
		return database.NewValidationError("genesis block must not carry transactions")
	}

	var supply int64
	funds := newLedger(nil)
	for i := 1; i < len(blocks); i++ {
		if err := s.validateBlock(blocks[i-1], blocks[i], supply, funds); err != nil {
			return err
		}

		for _, tx := range blocks[i].Values() {
			if tx.IsCoinbase() {
				supply += tx.Value
			}
		}
	}

	return nil
}

// ValidateLocalChain checks the chain currently held by the node.
func (s *State) ValidateLocalChain() error {
	s.mu.RLock()
	blocks := s.db.Blocks()
	s.mu.RUnlock()

	return s.ValidateChain(blocks)
}

// =============================================================================

// validateBlock takes a block and validates it can follow the parent block.
// The supply is the amount minted by the chain up to and including parent.
// The transactions are applied to funds, which holds the balances as of
// parent.
func (s *State) validateBlock(parent database.Block, block database.Block, supply int64, funds *ledger) error {
	index := block.Header.Index

	s.evHandler("state: validateBlock: blk[%d]: check: block index is the next index", index)

	if index != parent.Header.Index+1 {
		return database.NewValidationError("block %d: index is not the next index, exp %d", index, parent.Header.Index+1)
	}

	s.evHandler("state: validateBlock: blk[%d]: check: previous hash does match parent block", index)

	if block.Header.PrevHash != parent.Hash() {
		return database.NewValidationError("block %d: previous hash doesn't match parent, got %s, exp %s", index, block.Header.PrevHash, parent.Hash())
	}

	s.evHandler("state: validateBlock: blk[%d]: check: difficulty is within bounds", index)

	if diff := database.DifficultyBits(block.Header.Bits); diff < database.MinDifficultyBits || diff > database.MaxDifficultyBits {
		return database.NewValidationError("block %d: difficulty bits %d outside [%d,%d]", index, diff, database.MinDifficultyBits, database.MaxDifficultyBits)
	}

	if block.Target().Cmp(database.BitsToTarget(s.genesis.MaxBits)) > 0 {
		return database.NewValidationError("block %d: target %#08x is easier than the maximum %#08x", index, block.Header.Bits, s.genesis.MaxBits)
	}

	s.evHandler("state: validateBlock: blk[%d]: check: block hash has been solved", index)

	if err := block.ValidatePOW(); err != nil {
		return err
	}

	s.evHandler("state: validateBlock: blk[%d]: check: merkle root and transactions", index)

	if err := block.Validate(s.verifier); err != nil {
		return err
	}

	s.evHandler("state: validateBlock: blk[%d]: check: coinbase reward", index)

	var coinbases int
	for _, tx := range block.Values() {
		if !tx.IsCoinbase() {
			continue
		}

		coinbases++
		if coinbases > 1 {
			return database.NewValidationError("block %d: more than one coinbase transaction", index)
		}

		if err := tx.Validate(nil); err != nil {
			return database.NewValidationError("block %d: %s", index, err)
		}

		if reward := s.genesis.RewardWithin(index, supply); tx.Value > reward {
			return database.NewValidationError("block %d: coinbase pays %d, allowed %d", index, tx.Value, reward)
		}
	}

	s.evHandler("state: validateBlock: blk[%d]: check: senders can fund their transactions", index)

	for _, tx := range block.Values() {
		if err := funds.apply(tx); err != nil {
			return database.NewValidationError("block %d: %s", index, err)
		}
	}

	return nil
}

// =============================================================================

// ledger tracks balances while transactions are applied in block order on
// top of a base balance lookup.
type ledger struct {
	base    func(database.AccountID) int64
	changes map[database.AccountID]int64
}

func newLedger(base func(database.AccountID) int64) *ledger {
	return &ledger{
		base:    base,
		changes: make(map[database.AccountID]int64),
	}
}

func (l *ledger) balance(accountID database.AccountID) int64 {
	bal := l.changes[accountID]
	if l.base != nil {
		bal += l.base(accountID)
	}

	return bal
}

// apply debits the sender and credits the recipient. The privileged accounts
// and adjustments are not held to the sender's balance.
func (l *ledger) apply(tx database.Tx) error {
	if !tx.From.IsPrivileged() && tx.Kind != database.KindAdjustment {
		if bal := l.balance(tx.From); bal < tx.Cost() {
			return database.NewValidationError("tx %s: insufficient funds for %s, balance %d, needed %d", tx.Hash, tx.From, bal, tx.Cost())
		}
	}

	l.changes[tx.From] -= tx.Cost()
	l.changes[tx.To] += tx.Value

	return nil
}

// funded keeps the transactions the senders can pay for when applied in
// order on top of the base balances. The rest stay behind in the mempool.
func funded(base func(database.AccountID) int64, trans []database.Tx) []database.Tx {
	funds := newLedger(base)

	kept := make([]database.Tx, 0, len(trans))
	for _, tx := range trans {
		if err := funds.apply(tx); err != nil {
			continue
		}
		kept = append(kept, tx)
	}

	return kept
}

// invalid wraps a validation failure as an invalid chain.
func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrChainInvalid, err)
}
