package state

import (
	"encoding/json"
	"fmt"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// AcceptBlock takes a block received from a peer and appends it when it is
// the next block on top of the local tip. Blocks already known, at or behind
// the tip, or ahead of the tip are reported through the returned error so
// the caller can decide to ignore the block or start a sync.
func (s *State) AcceptBlock(block database.Block) error {
	s.evHandler("state: AcceptBlock: started: prevBlk[%s]: newBlk[%s]: numTrans[%d]", block.Header.PrevHash, block.Hash(), len(block.Values()))
	defer s.evHandler("state: AcceptBlock: completed: newBlk[%s]", block.Hash())

	if err := s.acceptBlock(block); err != nil {
		return err
	}

	// If a mining operation is running it needs to stop. The block it is
	// working on no longer sits on top of the tip.
	s.Worker.SignalCancelMining()

	return nil
}

// acceptBlock validates and commits the block under the ledger lock.
func (s *State) acceptBlock(block database.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db.HasBlock(block.Hash()) {
		return ErrBlockKnown
	}

	tip := s.db.LatestBlock()
	index := block.Header.Index

	switch {
	case index <= tip.Header.Index:
		return ErrBlockStale

	case index > tip.Header.Index+1:
		return fmt.Errorf("%w: blk[%d]: tip[%d]", ErrBlockAhead, index, tip.Header.Index)

	case block.Header.PrevHash != tip.Hash():
		return ErrChainForked
	}

	if err := s.validateBlock(tip, block, s.db.Supply(), newLedger(s.db.Balance)); err != nil {
		return err
	}

	s.commit(block)

	return nil
}

// =============================================================================

// commit appends a validated block, prunes the mempool, retargets the
// difficulty and persists the ledger. The caller must hold the lock.
func (s *State) commit(block database.Block) {
	s.db.Append(block)

	hashes := make([]string, 0, block.Trans.Len())
	for _, tx := range block.Values() {
		hashes = append(hashes, tx.Hash)
	}
	s.mempool.RemoveHashes(hashes)

	target := nextTarget(s.genesis, block, s.db.Block, s.db.Target())
	s.db.SetBits(database.TargetToBits(target))

	s.persist()
	s.blockEvent(block)
}

// persist writes the ledger snapshot. The in-memory ledger stays
// authoritative when the write fails. The caller must hold the lock.
func (s *State) persist() {
	if err := s.db.Write(); err != nil {
		s.evHandler("state: persist: WARNING: %s", err)
	}
}

// blockEvent provides a specific event about a new block in the chain for
// application specific support.
func (s *State) blockEvent(block database.Block) {
	blockHeaderJSON, err := json.Marshal(block.Header)
	if err != nil {
		blockHeaderJSON = []byte(fmt.Sprintf("%q", err.Error()))
	}

	blockTransJSON, err := json.Marshal(block.Values())
	if err != nil {
		blockTransJSON = []byte(fmt.Sprintf("%q", err.Error()))
	}

	s.evHandler(`viewer: block: {"hash":%q,"header":%s,"trans":%s}`, block.Hash(), string(blockHeaderJSON), string(blockTransJSON))
}
