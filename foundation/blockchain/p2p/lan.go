package p2p

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
	"github.com/grandcat/zeroconf"
	"golang.org/x/sync/errgroup"
)

// Service and domain the node advertises itself under on the LAN.
const (
	LANService = "_powchain._tcp"
	LANDomain  = "local."
)

// DefaultDiscoverWait is how long Discover browses the LAN.
const DefaultDiscoverWait = 3 * time.Second

// advertise registers this node with mDNS.
func (n *Node) advertise() error {
	server, err := zeroconf.Register(n.nodeID, LANService, LANDomain, n.port, []string{"node_id=" + n.nodeID}, nil)
	if err != nil {
		return err
	}

	n.lan = server
	n.evHandler("p2p: advertise: LAN: service[%s]: port[%d]", LANService, n.port)

	return nil
}

// Discover browses the LAN for other nodes for the specified duration and
// connects to the ones found. It returns the number of new connections.
func (n *Node) Discover(ctx context.Context, wait time.Duration) (int, error) {
	n.evHandler("p2p: Discover: started")
	defer n.evHandler("p2p: Discover: completed")

	if wait <= 0 {
		wait = DefaultDiscoverWait
	}

	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var mu sync.Mutex
	var found []peer.Peer

	entries := make(chan *zeroconf.ServiceEntry, 32)
	go func() {
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}

				if entry.Instance == n.nodeID || len(entry.AddrIPv4) == 0 {
					continue
				}

				mu.Lock()
				found = append(found, peer.New(entry.AddrIPv4[0].String(), entry.Port))
				mu.Unlock()

			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, LANService, LANDomain, entries); err != nil {
		return 0, err
	}

	<-ctx.Done()

	mu.Lock()
	candidates := found
	found = nil
	mu.Unlock()

	var connected int
	var cmu sync.Mutex

	var g errgroup.Group
	g.SetLimit(maxConcurrentDials)

	for _, p := range candidates {
		addr := p.Addr()
		if n.connectedTo(addr) {
			continue
		}

		g.Go(func() error {
			if err := n.Connect(n.ctx, addr); err != nil {
				if !errors.Is(err, ErrSelfConnection) {
					n.evHandler("p2p: Discover: peer[%s]: %s", addr, err)
				}
				return nil
			}

			cmu.Lock()
			connected++
			cmu.Unlock()

			return nil
		})
	}

	g.Wait()

	return connected, nil
}
