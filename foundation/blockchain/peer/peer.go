// Package peer maintains the peer related information such as the set
// of know peers, when they were last heard from and their reputation.
package peer

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Default reputation and liveness policy.
const (
	IdleTimeout        = 300 * time.Second
	DefaultMaxStrikes  = 3
	DefaultBanDuration = time.Hour
)

// Peer represents information about a Node in the network.
type Peer struct {
	Host     string    `json:"address"`
	Port     int       `json:"port"`
	LastSeen time.Time `json:"last_seen"`
}

// New contructs a new peer value.
func New(host string, port int) Peer {
	return Peer{
		Host: host,
		Port: port,
	}
}

// Parse takes a host:port address and returns a peer value.
func Parse(addr string) (Peer, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Peer{}, fmt.Errorf("parse peer address %q: %w", addr, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Peer{}, fmt.Errorf("parse peer address %q: invalid port", addr)
	}

	if host == "" {
		host = "127.0.0.1"
	}

	return New(host, port), nil
}

// Addr returns the address used to dial the peer.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Match validates if the specified address matches this peer.
func (p Peer) Match(addr string) bool {
	return p.Addr() == addr
}

// String implements the fmt.Stringer interface.
func (p Peer) String() string {
	return p.Addr()
}

// =============================================================================

// PeerSet represents the data representation to maintain a set of known
// peers. Reputation is tracked per host so a misbehaving node can't come
// back on another port.
type PeerSet struct {
	mu         sync.RWMutex
	set        map[string]Peer
	strikes    map[string]int
	bans       map[string]time.Time
	maxStrikes int
	banFor     time.Duration
	now        func() time.Time
}

// NewPeerSet constructs a new set using the default reputation policy.
func NewPeerSet() *PeerSet {
	return NewPeerSetWithPolicy(DefaultMaxStrikes, DefaultBanDuration)
}

// NewPeerSetWithPolicy constructs a new set that bans a host for the
// specified duration once it reaches maxStrikes.
func NewPeerSetWithPolicy(maxStrikes int, banFor time.Duration) *PeerSet {
	if maxStrikes <= 0 {
		maxStrikes = DefaultMaxStrikes
	}

	return &PeerSet{
		set:        make(map[string]Peer),
		strikes:    make(map[string]int),
		bans:       make(map[string]time.Time),
		maxStrikes: maxStrikes,
		banFor:     banFor,
		now:        time.Now,
	}
}

// Add adds a new peer to the set. A peer without a last seen time is
// stamped with the current time. Banned hosts are not added.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.isBanned(peer.Host) {
		return false
	}

	if _, exists := ps.set[peer.Addr()]; exists {
		return false
	}

	if peer.LastSeen.IsZero() {
		peer.LastSeen = ps.now()
	}

	ps.set[peer.Addr()] = peer
	return true
}

// Remove removes a peer from the set.
func (ps *PeerSet) Remove(addr string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, addr)
}

// Touch records that the peer was just heard from.
func (ps *PeerSet) Touch(addr string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if peer, exists := ps.set[addr]; exists {
		peer.LastSeen = ps.now()
		ps.set[addr] = peer
	}
}

// Contains reports whether the peer is in the set.
func (ps *PeerSet) Contains(addr string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	_, exists := ps.set[addr]
	return exists
}

// Len returns the number of known peers.
func (ps *PeerSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return len(ps.set)
}

// Copy returns a list of the known peers sorted by address, excluding the
// specified address.
func (ps *PeerSet) Copy(exclude string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	peers := make([]Peer, 0, len(ps.set))
	for addr, peer := range ps.set {
		if addr != exclude {
			peers = append(peers, peer)
		}
	}

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Addr() < peers[j].Addr()
	})

	return peers
}

// Prune removes the peers that have not been heard from within the idle
// duration and returns them.
func (ps *PeerSet) Prune(idle time.Duration) []Peer {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	cutoff := ps.now().Add(-idle)

	var pruned []Peer
	for addr, peer := range ps.set {
		if peer.LastSeen.Before(cutoff) {
			delete(ps.set, addr)
			pruned = append(pruned, peer)
		}
	}

	return pruned
}

// =============================================================================

// Strike records misbehavior by the host. It returns true when the host
// reached the maximum number of strikes and is now banned. A banned host is
// removed from the set.
func (ps *PeerSet) Strike(host string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.strikes[host]++
	if ps.strikes[host] < ps.maxStrikes {
		return false
	}

	delete(ps.strikes, host)
	ps.bans[host] = ps.now().Add(ps.banFor)

	for addr, peer := range ps.set {
		if peer.Host == host {
			delete(ps.set, addr)
		}
	}

	return true
}

// Strikes returns the current number of strikes against the host.
func (ps *PeerSet) Strikes(host string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return ps.strikes[host]
}

// IsBanned reports whether connections with the host must be refused.
func (ps *PeerSet) IsBanned(host string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	return ps.isBanned(host)
}

// isBanned checks the ban list and expires old bans. The caller must hold
// the write lock.
func (ps *PeerSet) isBanned(host string) bool {
	until, exists := ps.bans[host]
	if !exists {
		return false
	}

	if ps.now().After(until) {
		delete(ps.bans, host)
		return false
	}

	return true
}
