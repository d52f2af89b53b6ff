package p2p

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"golang.org/x/sync/errgroup"
)

// syncOperations periodically reconciles the local chain with the peers.
// After a failed sync the next attempt comes sooner.
func (n *Node) syncOperations() {
	n.evHandler("p2p: syncOperations: G started")
	defer n.evHandler("p2p: syncOperations: G completed")

	timer := time.NewTimer(n.cfg.SyncInterval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			wait := n.cfg.SyncInterval
			if err := n.Sync(n.ctx); err != nil {
				n.evHandler("p2p: syncOperations: ERROR: %s", err)
				wait = n.cfg.SyncRetryInterval
			}
			timer.Reset(wait)

		case <-n.ctx.Done():
			n.evHandler("p2p: syncOperations: received shut signal")
			return
		}
	}
}

// Sync polls every peer for its height and pages in the chain of the highest
// peer that is ahead of this node. On success the new height is announced to
// every peer.
func (n *Node) Sync(ctx context.Context) error {
	n.evHandler("p2p: Sync: started")
	defer n.evHandler("p2p: Sync: completed")

	conns := n.Connections()
	if len(conns) == 0 {
		return nil
	}

	heights := make([]uint64, len(conns))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range conns {
		g.Go(func() error {
			resp, err := c.Request(gctx, NewGetHeight(), KindHeight, n.cfg.RequestTimeout)
			if err != nil {
				n.evHandler("p2p: Sync: get_height: peer[%s]: %s", c.addr(), err)
				return nil
			}

			heights[i] = resp.Height
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	best := -1
	local := n.state.Height()
	for i, height := range heights {
		if height > local && (best == -1 || height > heights[best]) {
			best = i
		}
	}

	if best == -1 {
		return nil
	}

	c := conns[best]
	n.evHandler("p2p: Sync: pulling chain: peer[%s]: height[%d]: local[%d]", c.addr(), heights[best], local)

	return n.pull(ctx, c, heights[best])
}

// =============================================================================

// goPull pages in the peer's chain in the background. The connection's
// reader G can't wait on the responses itself.
func (n *Node) goPull(c *Conn, remote uint64) {
	if remote <= n.state.Height() {
		return
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()

		if err := n.pull(n.ctx, c, remote); err != nil {
			n.evHandler("p2p: sync: peer[%s]: ERROR: %s", c.addr(), err)
		}
	}()
}

// pull pages in the peer's chain in windows of MaxGraftBlocks blocks until
// this node reaches the height the peer reported. A window that doesn't link
// onto the local chain starts a walk back to the fork point. Only one pull
// runs per connection.
func (n *Node) pull(ctx context.Context, c *Conn, remote uint64) error {
	if !c.syncing.CompareAndSwap(false, true) {
		return nil
	}
	defer c.syncing.Store(false)

	before := n.state.Height()

	for {
		local := n.state.Height()
		if remote <= local {
			break
		}

		start := local + 1
		end := min(remote, local+state.MaxGraftBlocks)

		n.evHandler("p2p: sync: peer[%s]: requesting range[%d:%d]: remote[%d]", c.addr(), start, end, remote)

		blocks, err := n.fetchRange(ctx, c, start, end)
		if err == nil && len(blocks) == 0 {
			break
		}

		if err == nil {
			if n.linksAt(start, blocks[0]) {
				err = n.state.GraftRange(start, blocks)
			} else {
				err = n.reorg(ctx, c, start, blocks)
			}
		}

		switch {
		case err == nil:
			n.chainsReplaced.Add(1)

		case errors.Is(err, state.ErrChainNotLonger):
			return nil

		case errors.Is(err, state.ErrChainInvalid), database.IsValidationError(err):
			n.strike(c, err)
			return err

		default:
			return err
		}
	}

	if height := n.state.Height(); height > before {
		n.evHandler("p2p: sync: peer[%s]: synced: height[%d]", c.addr(), height)
		n.broadcast(NewHeight(height), nil)
	}

	return nil
}

// reorg walks back from start a window at a time until the peer's branch
// links onto the local chain. The local blocks below the fork point plus the
// branch are then offered as a replacement chain.
func (n *Node) reorg(ctx context.Context, c *Conn, start uint64, branch []database.Block) error {
	for !n.linksAt(start, branch[0]) {
		if start == 1 {
			return database.NewValidationError("peer chain does not link to the genesis block")
		}

		end := start - 1
		start = 1
		if end > state.MaxGraftBlocks {
			start = end - state.MaxGraftBlocks + 1
		}

		n.evHandler("p2p: sync: peer[%s]: walking back: range[%d:%d]", c.addr(), start, end)

		blocks, err := n.fetchRange(ctx, c, start, end)
		if err != nil {
			return err
		}

		if uint64(len(blocks)) != end-start+1 {
			return database.NewValidationError("range[%d:%d] returned %d blocks", start, end, len(blocks))
		}

		branch = append(blocks, branch...)
	}

	prefix := n.state.BlockRange(0, start-1)
	if uint64(len(prefix)) != start {
		return fmt.Errorf("%w: local chain is shorter than the fork point %d", state.ErrChainNotLonger, start)
	}

	n.evHandler("p2p: sync: peer[%s]: fork point[%d]: branch[%d]", c.addr(), start-1, len(branch))

	return n.state.ReplaceChain(append(prefix, branch...))
}

// fetchRange requests the blocks in [start, end] and checks the answer
// covers the range requested.
func (n *Node) fetchRange(ctx context.Context, c *Conn, start uint64, end uint64) ([]database.Block, error) {
	resp, err := c.Request(ctx, NewGetBlockRange(start, end), KindBlockRange, n.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	blocks, err := resp.BlockList()
	if err != nil {
		return nil, err
	}

	switch {
	case len(blocks) == 0:
		return nil, nil

	case uint64(len(blocks)) > end-start+1:
		return nil, database.NewValidationError("range[%d:%d] returned %d blocks", start, end, len(blocks))

	case resp.StartHeight != start || blocks[0].Header.Index != start:
		return nil, database.NewValidationError("range[%d:%d] starts at block %d", start, end, blocks[0].Header.Index)
	}

	return blocks, nil
}

// linksAt reports whether the block follows the local block at start-1.
func (n *Node) linksAt(start uint64, block database.Block) bool {
	parent := n.state.BlockRange(start-1, start-1)
	return len(parent) == 1 && block.Header.PrevHash == parent[0].Hash()
}
