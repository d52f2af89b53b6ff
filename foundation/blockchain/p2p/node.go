// Package p2p implements the peer to peer protocol that keeps independently
// operated ledgers in agreement. Every peer gets one persistent connection
// with its own outbound queue. Chains are reconciled with the longest valid
// chain rule.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
)

// Config represents the configuration of the peer node.
type Config struct {
	Host                string
	NodeID              string
	State               *state.State
	Peers               *peer.PeerSet
	Seeds               []string
	MinPeers            int
	MaxPeers            int
	QueueSize           int
	DialTimeout         time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	RequestTimeout      time.Duration
	MaintenanceInterval time.Duration
	PeerIdleTimeout     time.Duration
	SyncInterval        time.Duration
	SyncRetryInterval   time.Duration
	LAN                 bool
	EvHandler           state.EventHandler
}

// Defaults for the peer node configuration.
const (
	DefaultMinPeers            = 8
	DefaultMaxPeers            = 32
	DefaultQueueSize           = 256
	DefaultDialTimeout         = 5 * time.Second
	DefaultReadTimeout         = 30 * time.Second
	DefaultWriteTimeout        = 10 * time.Second
	DefaultRequestTimeout      = 30 * time.Second
	DefaultMaintenanceInterval = 60 * time.Second
	DefaultSyncInterval        = 60 * time.Second
	DefaultSyncRetryInterval   = 15 * time.Second
)

func (cfg *Config) defaults() {
	if cfg.MinPeers <= 0 {
		cfg.MinPeers = DefaultMinPeers
	}
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = DefaultMaxPeers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if cfg.PeerIdleTimeout <= 0 {
		cfg.PeerIdleTimeout = peer.IdleTimeout
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.SyncRetryInterval <= 0 {
		cfg.SyncRetryInterval = DefaultSyncRetryInterval
	}
}

// Stats represents the counters maintained by the node.
type Stats struct {
	BlocksAnnounced  uint64
	BlocksAccepted   uint64
	ChainsReplaced   uint64
	TxsRelayed       uint64
	MessagesRejected uint64
	PeersBanned      uint64
}

// =============================================================================

// Node manages the peer connections of this node.
type Node struct {
	cfg       Config
	nodeID    string
	state     *state.State
	peers     *peer.PeerSet
	evHandler state.EventHandler

	listener net.Listener
	port     int
	lan      *zeroconf.Server
	seeds    []*seed

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	conns  map[*Conn]struct{}
	byID   map[string]*Conn
	self   map[string]struct{}
	closed bool

	blocksAnnounced  atomic.Uint64
	blocksAccepted   atomic.Uint64
	chainsReplaced   atomic.Uint64
	txsRelayed       atomic.Uint64
	messagesRejected atomic.Uint64
	peersBanned      atomic.Uint64
}

// New constructs a peer node. Nothing happens on the network until Start
// is called.
func New(cfg Config) (*Node, error) {
	if cfg.State == nil {
		return nil, errors.New("p2p: state is required")
	}

	cfg.defaults()

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}

	if cfg.Peers == nil {
		cfg.Peers = peer.NewPeerSet()
	}

	n := Node{
		cfg:       cfg,
		nodeID:    cfg.NodeID,
		state:     cfg.State,
		peers:     cfg.Peers,
		evHandler: ev,
		conns:     make(map[*Conn]struct{}),
		byID:      make(map[string]*Conn),
		self:      make(map[string]struct{}),
	}

	for _, addr := range cfg.Seeds {
		if _, err := peer.Parse(addr); err != nil {
			return nil, err
		}
		n.seeds = append(n.seeds, newSeed(addr))
	}

	return &n, nil
}

// Start opens the listener and starts the accept, maintenance and sync G's.
func (n *Node) Start() error {
	listener, err := net.Listen("tcp", n.cfg.Host)
	if err != nil {
		return fmt.Errorf("p2p: listen %s: %w", n.cfg.Host, err)
	}

	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		listener.Close()
		return err
	}

	n.port, _ = strconv.Atoi(portStr)
	n.listener = listener
	n.ctx, n.cancel = context.WithCancel(context.Background())

	if n.cfg.LAN {
		if err := n.advertise(); err != nil {
			n.evHandler("p2p: Start: LAN: WARNING: %s", err)
		}
	}

	operations := []func(){
		n.acceptOperations,
		n.maintenanceOperations,
		n.syncOperations,
	}

	n.wg.Add(len(operations))
	for _, op := range operations {
		go func(op func()) {
			defer n.wg.Done()
			op()
		}(op)
	}

	n.evHandler("p2p: Start: listening: addr[%s]: node[%s]", listener.Addr(), n.nodeID)

	return nil
}

// Shutdown closes every connection and waits for the node G's to terminate.
func (n *Node) Shutdown() {
	n.evHandler("p2p: shutdown: started")
	defer n.evHandler("p2p: shutdown: completed")

	n.mu.Lock()
	n.closed = true
	conns := make([]*Conn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	if n.cancel != nil {
		n.cancel()
	}

	if n.listener != nil {
		n.listener.Close()
	}

	for _, c := range conns {
		c.Close(nil)
	}

	if n.lan != nil {
		n.lan.Shutdown()
	}

	n.wg.Wait()
}

// NodeID returns the id this node announces in handshakes.
func (n *Node) NodeID() string {
	return n.nodeID
}

// Addr returns the address the node is listening on.
func (n *Node) Addr() string {
	if n.listener == nil {
		return n.cfg.Host
	}

	return n.listener.Addr().String()
}

// Peers returns the known peers.
func (n *Node) Peers() []peer.Peer {
	return n.peers.Copy("")
}

// Connections returns the established connections.
func (n *Node) Connections() []*Conn {
	n.mu.RLock()
	defer n.mu.RUnlock()

	conns := make([]*Conn, 0, len(n.byID))
	for _, c := range n.byID {
		conns = append(conns, c)
	}

	return conns
}

// ConnectionCount returns the number of established connections.
func (n *Node) ConnectionCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return len(n.byID)
}

// Stats returns a copy of the node counters.
func (n *Node) Stats() Stats {
	return Stats{
		BlocksAnnounced:  n.blocksAnnounced.Load(),
		BlocksAccepted:   n.blocksAccepted.Load(),
		ChainsReplaced:   n.chainsReplaced.Load(),
		TxsRelayed:       n.txsRelayed.Load(),
		MessagesRejected: n.messagesRejected.Load(),
		PeersBanned:      n.peersBanned.Load(),
	}
}

// =============================================================================

// Connect dials the peer and waits for the handshake to complete. Connecting
// to a peer that is already connected is a no-op.
func (n *Node) Connect(ctx context.Context, addr string) error {
	p, err := peer.Parse(addr)
	if err != nil {
		return err
	}

	switch {
	case n.isSelf(p.Addr()):
		return netErr(p.Addr(), "connect", ErrSelfConnection)

	case n.peers.IsBanned(p.Host):
		return netErr(p.Addr(), "connect", ErrBanned)

	case n.connectedTo(p.Addr()):
		return nil

	case n.ConnectionCount() >= n.cfg.MaxPeers:
		return netErr(p.Addr(), "connect", ErrMaxPeers)
	}

	dialer := net.Dialer{Timeout: n.cfg.DialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", p.Addr())
	if err != nil {
		return netErr(p.Addr(), "connect", err)
	}

	c := newConn(n, netConn, false, p)
	if !n.track(c) {
		netConn.Close()
		return netErr(p.Addr(), "connect", ErrClosed)
	}

	go c.run()

	timer := time.NewTimer(n.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case <-c.established:
		return nil
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		c.Close(ctx.Err())
		return ctx.Err()
	case <-timer.C:
		c.Close(ErrHandshake)
		return netErr(p.Addr(), "connect", ErrHandshake)
	}
}

// BroadcastBlock announces a block mined by this node to every peer.
func (n *Node) BroadcastBlock(block database.Block) {
	msg, err := NewBlock(block)
	if err != nil {
		n.evHandler("p2p: BroadcastBlock: ERROR: %s", err)
		return
	}

	n.blocksAnnounced.Add(1)
	n.broadcast(msg, nil)
}

// BroadcastTransaction relays a transaction submitted to this node.
func (n *Node) BroadcastTransaction(tx database.Tx) {
	msg, err := NewTransaction(tx)
	if err != nil {
		n.evHandler("p2p: BroadcastTransaction: ERROR: %s", err)
		return
	}

	n.txsRelayed.Add(1)
	n.broadcast(msg, nil)
}

// broadcast queues the message on every established connection except the
// excluded one.
func (n *Node) broadcast(msg Message, exclude *Conn) {
	for _, c := range n.Connections() {
		if c == exclude {
			continue
		}

		if err := c.Send(msg); err != nil {
			n.evHandler("p2p: broadcast: %s: WARNING: %s", msg.Type, err)
		}
	}
}

// =============================================================================

// acceptOperations accepts inbound connections until the listener closes.
func (n *Node) acceptOperations() {
	n.evHandler("p2p: acceptOperations: G started")
	defer n.evHandler("p2p: acceptOperations: G completed")

	for {
		netConn, err := n.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			n.evHandler("p2p: acceptOperations: ERROR: %s", err)
			continue
		}

		host, _, _ := net.SplitHostPort(netConn.RemoteAddr().String())
		if n.peers.IsBanned(host) {
			n.evHandler("p2p: acceptOperations: refused banned host[%s]", host)
			netConn.Close()
			continue
		}

		c := newConn(n, netConn, true, peer.Peer{Host: host})
		if !n.track(c) {
			netConn.Close()
			return
		}

		go c.run()
	}
}

// track registers a new connection. It returns false once the node is
// shutting down.
func (n *Node) track(c *Conn) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return false
	}

	n.conns[c] = struct{}{}
	n.wg.Add(1)

	return true
}

// untrack forgets a closed connection.
func (n *Node) untrack(c *Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.conns, c)
	if id := c.NodeID(); id != "" && n.byID[id] == c {
		delete(n.byID, id)
	}
}

// register makes the connection the established connection for the node id.
func (n *Node) register(c *Conn, nodeID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.byID[nodeID]; exists {
		return ErrDuplicateNode
	}

	if len(n.byID) >= n.cfg.MaxPeers {
		return ErrMaxPeers
	}

	n.byID[nodeID] = c

	return nil
}

// connectedTo reports whether a connection to the address exists.
func (n *Node) connectedTo(addr string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for c := range n.conns {
		if c.Peer().Addr() == addr {
			return true
		}
	}

	return false
}

// markSelf remembers an address that leads back to this node.
func (n *Node) markSelf(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.self[addr] = struct{}{}
}

func (n *Node) isSelf(addr string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	_, exists := n.self[addr]
	return exists
}

// strike records misbehavior by the peer and drops every connection with
// the host once it is banned.
func (n *Node) strike(c *Conn, reason error) {
	host := c.Peer().Host
	n.messagesRejected.Add(1)

	n.evHandler("p2p: strike: host[%s]: %s", host, reason)

	if !n.peers.Strike(host) {
		return
	}

	n.peersBanned.Add(1)
	n.evHandler("p2p: strike: host[%s]: BANNED", host)

	n.mu.RLock()
	var conns []*Conn
	for conn := range n.conns {
		if conn.Peer().Host == host {
			conns = append(conns, conn)
		}
	}
	n.mu.RUnlock()

	for _, conn := range conns {
		conn.Close(netErr(conn.addr(), "strike", ErrBanned))
	}
}

// isShutdown is used to test if a shutdown has been signaled.
func (n *Node) isShutdown() bool {
	select {
	case <-n.ctx.Done():
		return true
	default:
		return false
	}
}
