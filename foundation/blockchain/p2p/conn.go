package p2p

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
)

// maxTimeouts is the number of consecutive idle read timeouts tolerated
// before the connection is dropped.
const maxTimeouts = 3

// ConnState represents where a connection is in its lifecycle.
type ConnState int32

// Set of connection states.
const (
	StateConnecting ConnState = iota
	StateHandshaking
	StateEstablished
	StateClosing
)

// String implements the fmt.Stringer interface.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	}

	return "unknown"
}

// =============================================================================

// Conn represents a persistent connection with a peer. Messages are read and
// handled in arrival order by a single G. Outbound messages are queued and
// written by a dedicated writer G.
type Conn struct {
	node    *Node
	netConn net.Conn
	inbound bool
	state   atomic.Int32

	out         chan Message
	done        chan struct{}
	established chan struct{}
	closeOnce   sync.Once

	syncing atomic.Bool

	mu      sync.Mutex
	nodeID  string
	peer    peer.Peer
	height  uint64
	waiters map[Kind][]chan Message
	err     error
}

func newConn(node *Node, netConn net.Conn, inbound bool, p peer.Peer) *Conn {
	c := Conn{
		node:        node,
		netConn:     netConn,
		inbound:     inbound,
		out:         make(chan Message, node.cfg.QueueSize),
		done:        make(chan struct{}),
		established: make(chan struct{}),
		peer:        p,
		waiters:     make(map[Kind][]chan Message),
	}

	c.state.Store(int32(StateConnecting))

	return &c
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// NodeID returns the node id the peer announced in its handshake.
func (c *Conn) NodeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.nodeID
}

// Peer returns the address the peer can be dialed on.
func (c *Conn) Peer() peer.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.peer
}

// Height returns the last height the peer reported.
func (c *Conn) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.height
}

// Inbound reports whether the peer dialed this node.
func (c *Conn) Inbound() bool {
	return c.inbound
}

// Send queues a message for the writer G. It does not block, a message that
// doesn't fit in the queue is dropped.
func (c *Conn) Send(msg Message) error {
	select {
	case <-c.done:
		return netErr(c.addr(), "send", ErrClosed)
	default:
	}

	select {
	case c.out <- msg:
		return nil
	case <-c.done:
		return netErr(c.addr(), "send", ErrClosed)
	default:
		return netErr(c.addr(), "send", ErrQueueFull)
	}
}

// Request sends the message and waits for the next message of the specified
// kind on this connection.
func (c *Conn) Request(ctx context.Context, msg Message, kind Kind, timeout time.Duration) (Message, error) {
	ch := make(chan Message, 1)

	c.mu.Lock()
	c.waiters[kind] = append(c.waiters[kind], ch)
	c.mu.Unlock()

	defer c.removeWaiter(kind, ch)

	if err := c.Send(msg); err != nil {
		return Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		return Message{}, netErr(c.addr(), "request "+string(msg.Type), ErrClosed)
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-timer.C:
		return Message{}, netErr(c.addr(), "request "+string(msg.Type), ErrNoResponse)
	}
}

// Close terminates the connection. The first error recorded is the reason
// reported to anyone waiting on the connection.
func (c *Conn) Close(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()

		c.state.Store(int32(StateClosing))
		close(c.done)
		c.netConn.Close()

		if err != nil {
			c.node.evHandler("p2p: conn: closed: %s: %s", c.addr(), err)
			return
		}
		c.node.evHandler("p2p: conn: closed: %s", c.addr())
	})
}

// Err returns the reason the connection was closed.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err == nil {
		return netErr(c.peer.Addr(), "conn", ErrClosed)
	}

	return c.err
}

// =============================================================================

// run drives the connection until it closes.
func (c *Conn) run() {
	defer c.node.wg.Done()
	defer c.node.untrack(c)

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		c.writeOperations()
	}()

	c.state.Store(int32(StateHandshaking))
	c.Send(NewHandshake(c.node.nodeID, c.node.port, c.node.state.Height()))

	c.readOperations()

	c.Close(nil)
	wg.Wait()
}

// writeOperations drains the outbound queue.
func (c *Conn) writeOperations() {
	for {
		select {
		case msg := <-c.out:
			c.netConn.SetWriteDeadline(time.Now().Add(c.node.cfg.WriteTimeout))
			err := WriteFrame(c.netConn, msg)
			switch {
			case err == nil:

			// Nothing reached the wire so the connection is still usable.
			case errors.Is(err, ErrFrameTooLarge):
				c.node.evHandler("p2p: conn: write: %s: %s: dropped: %s", c.addr(), msg.Type, err)

			default:
				c.Close(netErr(c.addr(), "write", err))
				return
			}

		case <-c.done:
			return
		}
	}
}

// readOperations reads and handles messages until the connection fails. An
// idle read timeout sends a ping, too many in a row drops the connection.
func (c *Conn) readOperations() {
	var timeouts int

	for {
		msg, idle, err := c.read()
		if err != nil {
			if idle && timeouts+1 < maxTimeouts {
				timeouts++
				c.node.evHandler("p2p: conn: idle: %s: timeouts[%d]: sending ping", c.addr(), timeouts)
				c.Send(NewPing())
				continue
			}

			select {
			case <-c.done:
			default:
				c.Close(netErr(c.addr(), "read", err))
			}
			return
		}

		timeouts = 0
		c.dispatch(msg)
	}
}

// read reads the next frame. The idle flag is set when the read deadline
// passed before any byte of the frame arrived.
func (c *Conn) read() (Message, bool, error) {
	var header [4]byte

	c.netConn.SetReadDeadline(time.Now().Add(c.node.cfg.ReadTimeout))
	n, err := io.ReadFull(c.netConn, header[:])
	if err != nil {
		var ne net.Error
		idle := n == 0 && errors.As(err, &ne) && ne.Timeout()
		return Message{}, idle, err
	}

	c.netConn.SetReadDeadline(time.Now().Add(c.node.cfg.ReadTimeout))
	msg, err := readPayload(c.netConn, binary.BigEndian.Uint32(header[:]))
	if err != nil {
		return Message{}, false, err
	}

	return msg, false, nil
}

// dispatch hands the message to a waiting request or to the node handlers.
func (c *Conn) dispatch(msg Message) {
	if c.State() != StateEstablished && msg.Type != KindHandshake {
		c.Close(netErr(c.addr(), "dispatch", ErrHandshake))
		return
	}

	if msg.Type == KindHeight || msg.Type == KindHandshake {
		c.mu.Lock()
		c.height = msg.Height
		c.mu.Unlock()
	}

	if c.deliver(msg) {
		c.node.peers.Touch(c.Peer().Addr())
		return
	}

	c.node.handle(c, msg)
}

// deliver passes the message to the oldest request waiting for its kind.
func (c *Conn) deliver(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	waiters := c.waiters[msg.Type]
	if len(waiters) == 0 {
		return false
	}

	ch := waiters[0]
	c.waiters[msg.Type] = waiters[1:]
	ch <- msg

	return true
}

func (c *Conn) removeWaiter(kind Kind, ch chan Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	waiters := c.waiters[kind]
	for i, w := range waiters {
		if w == ch {
			c.waiters[kind] = append(waiters[:i], waiters[i+1:]...)
			return
		}
	}
}

// establish records the peer identity once the handshake is accepted.
func (c *Conn) establish(nodeID string, p peer.Peer, height uint64) {
	c.mu.Lock()
	c.nodeID = nodeID
	c.peer = p
	c.height = height
	c.mu.Unlock()

	c.state.Store(int32(StateEstablished))
	close(c.established)
}

// addr returns the best known address for log messages.
func (c *Conn) addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.peer.Port == 0 {
		return c.netConn.RemoteAddr().String()
	}

	return c.peer.Addr()
}
