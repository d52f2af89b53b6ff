package p2p

import (
	"errors"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
)

// handle processes a message received on the connection. A panic in a
// handler is logged and the connection keeps going.
func (n *Node) handle(c *Conn, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			n.evHandler("p2p: handle: PANIC: %s: %s: %v", c.addr(), msg.Type, r)
		}
	}()

	n.peers.Touch(c.Peer().Addr())

	switch msg.Type {
	case KindHandshake:
		n.handleHandshake(c, msg)

	case KindPing:
		c.Send(NewPong())

	case KindPong:

	case KindGetHeight:
		c.Send(NewHeight(n.state.Height()))

	case KindHeight:
		n.handleHeight(c, msg)

	case KindGetBlocks:
		n.handleGetBlocks(c)

	case KindBlocks:
		n.handleBlocks(c, msg)

	case KindGetBlockRange:
		n.handleGetBlockRange(c, msg)

	case KindBlockRange:
		n.handleBlockRange(c, msg)

	case KindNewBlock:
		n.handleNewBlock(c, msg)

	case KindNewTx:
		n.handleNewTx(c, msg)

	case KindGetPeers:
		c.Send(NewPeers(n.peers.Copy(c.Peer().Addr())))

	case KindPeers:
		n.handlePeers(c, msg)
	}
}

// =============================================================================

// handleHandshake accepts or refuses the peer. When the peer is ahead a sync
// is requested on the same connection.
func (n *Node) handleHandshake(c *Conn, msg Message) {
	if c.State() == StateEstablished {
		return
	}

	p := c.Peer()
	if c.Inbound() {
		p.Port = msg.Port
	}

	switch {
	case msg.NodeID == n.nodeID:

		// The dialing side closes so it reads our handshake first and
		// remembers the address as its own.
		if c.Inbound() {
			return
		}
		n.markSelf(p.Addr())
		c.Close(netErr(p.Addr(), "handshake", ErrSelfConnection))
		return

	case msg.NodeID == "":
		c.Close(netErr(p.Addr(), "handshake", ErrHandshake))
		return

	case n.peers.IsBanned(p.Host):
		c.Close(netErr(p.Addr(), "handshake", ErrBanned))
		return
	}

	if err := n.register(c, msg.NodeID); err != nil {
		c.Close(netErr(p.Addr(), "handshake", err))
		return
	}

	c.establish(msg.NodeID, p, msg.Height)

	if p.Port > 0 {
		n.peers.Add(p)
	}

	n.evHandler("p2p: handshake: established: peer[%s]: node[%s]: height[%d]: version[%s]", p.Addr(), msg.NodeID, msg.Height, msg.Version)

	n.goPull(c, msg.Height)
}

// handleHeight starts a sync when the peer reports a longer chain.
func (n *Node) handleHeight(c *Conn, msg Message) {
	n.goPull(c, msg.Height)
}

// handleGetBlocks answers with the full chain. A chain too large for one
// frame is answered with the height so the peer pages it in by range.
func (n *Node) handleGetBlocks(c *Conn) {
	msg := NewBlocks(n.state.Blocks())
	if !msg.Fits() {
		n.evHandler("p2p: get_blocks: peer[%s]: chain exceeds one frame: sending height", c.addr())
		c.Send(NewHeight(n.state.Height()))
		return
	}

	c.Send(msg)
}

// handleBlocks applies a full chain sent by the peer.
func (n *Node) handleBlocks(c *Conn, msg Message) {
	blocks, err := msg.BlockList()
	if err != nil {
		n.strike(c, err)
		return
	}

	err = n.state.ReplaceChain(blocks)
	switch {
	case err == nil:
		n.chainsReplaced.Add(1)
		n.evHandler("p2p: blocks: chain replaced: peer[%s]: height[%d]", c.addr(), n.state.Height())
		n.broadcast(NewHeight(n.state.Height()), nil)

	case errors.Is(err, state.ErrChainNotLonger):

	case errors.Is(err, state.ErrChainInvalid):
		n.strike(c, err)

	default:
		n.evHandler("p2p: blocks: peer[%s]: ERROR: %s", c.addr(), err)
	}
}

// handleGetBlockRange answers with at most MaxGraftBlocks blocks.
func (n *Node) handleGetBlockRange(c *Conn, msg Message) {
	start, end := msg.StartHeight, msg.EndHeight
	if start == 0 {
		start = 1
	}

	if end < start {
		end = start
	}

	if end-start+1 > state.MaxGraftBlocks {
		end = start + state.MaxGraftBlocks - 1
	}

	c.Send(NewBlockRange(start, n.state.BlockRange(start, end)))
}

// handleBlockRange grafts a range no request is waiting for onto the local
// chain. When the range doesn't graft, the peer's chain is paged in instead.
func (n *Node) handleBlockRange(c *Conn, msg Message) {
	blocks, err := msg.BlockList()
	if err != nil {
		n.strike(c, err)
		return
	}

	err = n.state.GraftRange(msg.StartHeight, blocks)
	switch {
	case err == nil:
		n.chainsReplaced.Add(1)
		n.evHandler("p2p: block_range: grafted: peer[%s]: start[%d]: blocks[%d]", c.addr(), msg.StartHeight, len(blocks))
		n.broadcast(NewHeight(n.state.Height()), c)

	case errors.Is(err, state.ErrChainNotLonger):

	case database.IsValidationError(err):
		n.strike(c, err)

	default:
		n.evHandler("p2p: block_range: graft failed: peer[%s]: %s: paging chain", c.addr(), err)
		n.goPull(c, max(c.Height(), msg.StartHeight+uint64(len(blocks))-1))
	}
}

// handleNewBlock applies a relayed block on top of the tip and relays it
// onward.
func (n *Node) handleNewBlock(c *Conn, msg Message) {
	block, err := msg.Block()
	if err != nil {
		n.strike(c, err)
		return
	}

	if n.state.HasBlock(block.Hash()) {
		return
	}

	err = n.state.AcceptBlock(block)
	switch {
	case err == nil:
		n.blocksAccepted.Add(1)
		n.broadcast(msg, c)

	case errors.Is(err, state.ErrBlockKnown), errors.Is(err, state.ErrBlockStale):

	case errors.Is(err, state.ErrBlockAhead), errors.Is(err, state.ErrChainForked):
		n.evHandler("p2p: new_block: peer[%s]: %s: paging chain", c.addr(), err)
		n.goPull(c, block.Header.Index)

	case database.IsValidationError(err):
		n.strike(c, err)

	default:
		n.evHandler("p2p: new_block: peer[%s]: ERROR: %s", c.addr(), err)
	}
}

// handleNewTx admits a relayed transaction and floods it to the other
// peers.
func (n *Node) handleNewTx(c *Conn, msg Message) {
	tx, err := msg.Transaction()
	if err != nil {
		n.messagesRejected.Add(1)
		n.evHandler("p2p: new_transaction: peer[%s]: %s", c.addr(), err)
		return
	}

	if n.state.KnownTransaction(tx.Hash) {
		return
	}

	tx, added, err := n.state.AddTransaction(tx)
	if err != nil {
		n.messagesRejected.Add(1)
		n.evHandler("p2p: new_transaction: peer[%s]: tx[%s]: rejected: %s", c.addr(), tx.Hash, err)
		return
	}

	if !added {
		return
	}

	relay, err := NewTransaction(tx)
	if err != nil {
		return
	}

	n.txsRelayed.Add(1)
	n.broadcast(relay, c)
}

// handlePeers learns the peers in the address book and dials the new ones.
func (n *Node) handlePeers(c *Conn, msg Message) {
	for _, p := range msg.Peers {
		if p.Port <= 0 || n.isSelf(p.Addr()) {
			continue
		}

		p.LastSeen = time.Time{}
		if !n.peers.Add(p) {
			continue
		}

		n.evHandler("p2p: peers: learned peer[%s] from[%s]", p.Addr(), c.addr())

		if n.ConnectionCount() < n.cfg.MaxPeers {
			n.goConnect(p.Addr())
		}
	}
}

// =============================================================================

// goConnect dials the peer in the background.
func (n *Node) goConnect(addr string) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()

		if err := n.Connect(n.ctx, addr); err != nil {
			n.evHandler("p2p: connect: peer[%s]: %s", addr, err)
		}
	}()
}
