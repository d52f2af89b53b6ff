package state

import (
	"context"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// MineBlock attempts to create a new block with a proper hash that can become
// the next block in the chain. The nonce search runs without holding the
// ledger lock so peers can keep applying data. If the tip moved while
// searching, ErrStaleTip is returned and nothing is committed.
func (s *State) MineBlock(ctx context.Context) (database.Block, error) {
	s.evHandler("state: MineBlock: MINING: assemble")

	s.mu.RLock()
	tip := s.db.LatestBlock()
	supply := s.db.Supply()
	bits := s.db.Bits()
	pending := funded(s.db.Balance, s.mempool.PickBest(int(s.genesis.TransPerBlock)))
	s.mu.RUnlock()

	height := tip.Header.Index + 1

	// Once the supply is exhausted mining is a no-op.
	reward := s.genesis.RewardWithin(height, supply)
	if supply >= s.genesis.MaxSupply || reward <= 0 {
		s.evHandler("state: MineBlock: MINING: supply exhausted: supply[%d]", supply)
		return database.Block{}, ErrSupplyExhausted
	}

	coinbase := database.NewCoinbaseTx(s.minerAccountID, reward, time.Now().UTC().UnixMilli())

	trans := []database.Tx{coinbase}
	trans = append(trans, pending...)

	s.evHandler("state: MineBlock: MINING: perform POW: blk[%d]: trans[%d]: bits[%#08x]", height, len(trans), bits)

	// Attempt to create a new block by solving the POW puzzle. This can be cancelled.
	block, err := database.POW(ctx, database.POWArgs{
		Index:     height,
		PrevHash:  tip.Hash(),
		Bits:      bits,
		Trans:     trans,
		EvHandler: s.evHandler,
	})
	if err != nil {
		return database.Block{}, err
	}

	// Just check one more time we were not cancelled.
	if ctx.Err() != nil {
		return database.Block{}, ctx.Err()
	}

	s.evHandler("state: MineBlock: MINING: commit")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db.LatestBlock().Hash() != tip.Hash() {
		return database.Block{}, ErrStaleTip
	}

	if err := s.validateBlock(tip, block, s.db.Supply(), newLedger(s.db.Balance)); err != nil {
		s.evHandler("state: MineBlock: MINING: ERROR: %s", err)
		return database.Block{}, err
	}

	s.commit(block)

	return block, nil
}
