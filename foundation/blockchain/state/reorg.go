package state

import (
	"fmt"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// MaxGraftBlocks is the largest number of blocks accepted by GraftRange.
const MaxGraftBlocks = 100

// ReplaceChain adopts the specified chain when it is longer than the local
// chain and valid. The swap happens wholesale under the ledger lock. Pending
// transactions the new chain confirms are dropped from the mempool and
// transactions only the old chain confirmed are offered back to it.
func (s *State) ReplaceChain(blocks []database.Block) error {
	s.evHandler("state: ReplaceChain: started: blocks[%d]", len(blocks))
	defer s.evHandler("state: ReplaceChain: completed")

	if err := s.replaceChain(blocks); err != nil {
		s.evHandler("state: ReplaceChain: ERROR: %s", err)
		return err
	}

	s.Worker.SignalCancelMining()

	return nil
}

// GraftRange takes a run of at most MaxGraftBlocks linked blocks starting at
// index start and places them on top of the local blocks below start. This
// either appends to the chain or replaces its tail. The result is adopted
// only when it is longer than the local chain and valid.
func (s *State) GraftRange(start uint64, blocks []database.Block) error {
	s.evHandler("state: GraftRange: started: start[%d]: blocks[%d]", start, len(blocks))
	defer s.evHandler("state: GraftRange: completed")

	switch {
	case len(blocks) == 0:
		return database.NewValidationError("graft range is empty")

	case len(blocks) > MaxGraftBlocks:
		return database.NewValidationError("graft range holds %d blocks, max %d", len(blocks), MaxGraftBlocks)

	case start == 0:
		return database.NewValidationError("graft range can't replace the genesis block")

	case blocks[0].Header.Index != start:
		return database.NewValidationError("graft range starts at block %d, exp %d", blocks[0].Header.Index, start)
	}

	s.mu.RLock()
	local := s.db.Len()
	var candidate []database.Block
	if start <= uint64(local) {
		candidate = s.db.Range(0, start-1)
	}
	s.mu.RUnlock()

	if candidate == nil {
		return fmt.Errorf("%w: graft at %d: local blocks %d", ErrBlockAhead, start, local)
	}

	candidate = append(candidate, blocks...)

	if err := s.replaceChain(candidate); err != nil {
		s.evHandler("state: GraftRange: ERROR: %s", err)
		return err
	}

	s.Worker.SignalCancelMining()

	return nil
}

// =============================================================================

// replaceChain validates and swaps in the candidate chain.
func (s *State) replaceChain(blocks []database.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(blocks) <= s.db.Len() {
		return fmt.Errorf("%w: got %d blocks, have %d", ErrChainNotLonger, len(blocks), s.db.Len())
	}

	if err := s.ValidateChain(blocks); err != nil {
		return invalid(err)
	}

	previous := s.db.Blocks()

	s.db.Replace(blocks)
	s.db.SetBits(database.TargetToBits(replayTarget(s.genesis, blocks)))

	// Drop every pending transaction the new chain confirms.
	var confirmed []string
	for _, tx := range s.mempool.Copy() {
		if s.db.HasTransaction(tx.Hash) {
			confirmed = append(confirmed, tx.Hash)
		}
	}
	s.mempool.RemoveHashes(confirmed)

	// Offer the transactions orphaned by the swap back to the mempool. The
	// ones the new balances can't fund are dropped.
	var orphans int
	for _, block := range previous {
		for _, tx := range block.Values() {
			if tx.IsCoinbase() || s.db.HasTransaction(tx.Hash) {
				continue
			}

			if _, added, err := s.mempool.Add(tx, s.balance); err == nil && added {
				orphans++
			}
		}
	}

	s.evHandler("state: replaceChain: blocks[%d]: removed[%d]: orphans[%d]: bits[%#08x]", len(blocks), len(confirmed), orphans, s.db.Bits())

	s.persist()
	s.blockEvent(s.db.LatestBlock())

	return nil
}
