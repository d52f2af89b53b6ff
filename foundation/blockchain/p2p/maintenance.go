package p2p

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentDials bounds the number of peers dialed at once during
// maintenance.
const maxConcurrentDials = 4

// seed is a configured peer the node reconnects to with exponential backoff.
type seed struct {
	addr    string
	backoff *backoff.ExponentialBackOff
	next    time.Time
	self    bool
}

func newSeed(addr string) *seed {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Minute
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &seed{
		addr:    addr,
		backoff: bo,
	}
}

// =============================================================================

// maintenanceOperations runs the maintenance tick. The first tick runs right
// away so the seeds are dialed at startup.
func (n *Node) maintenanceOperations() {
	n.evHandler("p2p: maintenanceOperations: G started")
	defer n.evHandler("p2p: maintenanceOperations: G completed")

	ticker := time.NewTicker(n.cfg.MaintenanceInterval)
	defer ticker.Stop()

	n.runMaintenance()

	for {
		select {
		case <-ticker.C:
			if !n.isShutdown() {
				n.runMaintenance()
			}
		case <-n.ctx.Done():
			n.evHandler("p2p: maintenanceOperations: received shut signal")
			return
		}
	}
}

// runMaintenance prunes idle peers, refills connections when the node has
// too few and gossips for more peers.
func (n *Node) runMaintenance() {
	n.evHandler("p2p: runMaintenance: started")
	defer n.evHandler("p2p: runMaintenance: completed")

	for _, p := range n.peers.Prune(n.cfg.PeerIdleTimeout) {
		n.evHandler("p2p: runMaintenance: pruned idle peer[%s]", p.Addr())
		n.disconnect(p.Addr())
	}

	if n.ConnectionCount() < n.cfg.MinPeers {
		n.reconnectSeeds()
		n.dialKnownPeers()
	}

	n.broadcast(NewGetPeers(), nil)
}

// reconnectSeeds dials the seeds that are not connected and are due for a
// retry.
func (n *Node) reconnectSeeds() {
	now := time.Now()

	for _, s := range n.seeds {
		if s.self {
			continue
		}

		if n.connectedTo(s.addr) {
			s.backoff.Reset()
			s.next = time.Time{}
			continue
		}

		if now.Before(s.next) {
			continue
		}

		err := n.Connect(n.ctx, s.addr)
		switch {
		case err == nil:
			n.evHandler("p2p: reconnectSeeds: connected seed[%s]", s.addr)
			s.backoff.Reset()
			s.next = time.Time{}

		case errors.Is(err, ErrSelfConnection):
			s.self = true

		default:
			wait := s.backoff.NextBackOff()
			if wait == backoff.Stop {
				wait = s.backoff.MaxInterval
			}
			s.next = now.Add(wait)

			n.evHandler("p2p: reconnectSeeds: seed[%s]: %s: retry in %v", s.addr, err, wait)
		}
	}
}

// dialKnownPeers dials the known peers that are not connected.
func (n *Node) dialKnownPeers() {
	var g errgroup.Group
	g.SetLimit(maxConcurrentDials)

	for _, p := range n.peers.Copy("") {
		if n.ConnectionCount() >= n.cfg.MaxPeers {
			break
		}

		addr := p.Addr()
		if n.isSelf(addr) || n.connectedTo(addr) {
			continue
		}

		g.Go(func() error {
			if err := n.Connect(n.ctx, addr); err != nil {
				n.evHandler("p2p: dialKnownPeers: peer[%s]: %s", addr, err)
			}
			return nil
		})
	}

	g.Wait()
}

// disconnect closes the connections with the peer.
func (n *Node) disconnect(addr string) {
	n.mu.RLock()
	var conns []*Conn
	for c := range n.conns {
		if c.Peer().Addr() == addr {
			conns = append(conns, c)
		}
	}
	n.mu.RUnlock()

	for _, c := range conns {
		c.Close(nil)
	}
}
