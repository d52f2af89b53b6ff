package p2p_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/database/storage/memory"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/p2p"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// easyBits encodes a target where roughly half of all hashes are solutions.
const easyBits uint32 = 0x207fffff

const (
	waitFor = 10 * time.Second
	tick    = 20 * time.Millisecond
)

// =============================================================================

func newState(t *testing.T, miner database.AccountID) *state.State {
	t.Helper()

	gen := genesis.Default()
	gen.MaxBits = easyBits

	st, err := state.New(state.Config{
		MinerAccountID: miner,
		Genesis:        gen,
		Storage:        memory.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Shutdown() })

	return st
}

func newNode(t *testing.T, st *state.State, peers *peer.PeerSet) *p2p.Node {
	t.Helper()

	return newNodeWith(t, p2p.Config{
		State: st,
		Peers: peers,
	})
}

func newNodeWith(t *testing.T, cfg p2p.Config) *p2p.Node {
	t.Helper()

	if cfg.Host == "" {
		cfg.Host = "127.0.0.1:0"
	}
	if cfg.MaintenanceInterval == 0 {
		cfg.MaintenanceInterval = time.Hour
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = time.Hour
	}
	cfg.EvHandler = func(v string, args ...any) {
		t.Logf("\t\t"+v, args...)
	}

	node, err := p2p.New(cfg)
	require.NoError(t, err)
	require.NoError(t, node.Start())
	t.Cleanup(node.Shutdown)

	return node
}

// dialRaw completes a handshake with the node over a plain TCP connection,
// announcing the specified listening port.
func dialRaw(t *testing.T, node *p2p.Node, nodeID string, port int) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", node.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, p2p.WriteFrame(conn, p2p.NewHandshake(nodeID, port, 0)))

	handshake, err := p2p.ReadFrame(conn)
	require.NoError(t, err)
	require.Equal(t, p2p.KindHandshake, handshake.Type)

	return conn
}

func connect(t *testing.T, from *p2p.Node, to *p2p.Node) {
	t.Helper()

	require.NoError(t, from.Connect(context.Background(), to.Addr()))
	require.Eventually(t, func() bool {
		return from.ConnectionCount() == 1 && to.ConnectionCount() == 1
	}, waitFor, tick, "both sides should establish the connection")
}

func mine(t *testing.T, st *state.State, n int) {
	t.Helper()

	for range n {
		_, err := st.MineBlock(context.Background())
		require.NoError(t, err)
	}
}

func newAdjustment(t *testing.T, from, to database.AccountID, value int64) database.Tx {
	t.Helper()

	tx, err := database.NewTx(database.TxArgs{
		From:      from,
		To:        to,
		Value:     value,
		Kind:      database.KindAdjustment,
		Signature: "0xsig",
	})
	require.NoError(t, err)

	return tx
}

// =============================================================================

func Test_ForkResolution(t *testing.T) {
	t.Log("Given the need for a node to adopt the longest valid chain of its peers.")
	{
		t.Logf("\tTest 0:\tWhen node B at height 1 connects to node A at height 3.")
		{
			stA := newState(t, "minerA")
			stB := newState(t, "minerB")

			mine(t, stB, 1)

			tx := newAdjustment(t, "alice", "bob", 7)

			_, added, err := stA.AddTransaction(tx)
			require.NoError(t, err)
			require.True(t, added)

			mine(t, stA, 3)

			_, added, err = stB.AddTransaction(tx)
			require.NoError(t, err)
			require.True(t, added)
			require.Equal(t, 1, stB.MempoolLength())

			nodeA := newNode(t, stA, nil)
			nodeB := newNode(t, stB, nil)

			connect(t, nodeB, nodeA)

			require.Eventually(t, func() bool {
				return stB.Height() == 3 && stB.LatestBlock().Hash() == stA.LatestBlock().Hash()
			}, waitFor, tick, "node B should adopt the chain of node A")
			t.Logf("\t%s\tTest 0:\tShould adopt the longer chain.", success)

			require.Equal(t, 0, stB.MempoolLength(), "the confirmed transaction should leave the mempool")
			require.True(t, stB.KnownTransaction(tx.Hash), "the transaction should be confirmed")
			t.Logf("\t%s\tTest 0:\tShould prune the confirmed transaction from the mempool.", success)

			require.Equal(t, int64(150), stB.Balance("minerA"))
			require.Equal(t, int64(0), stB.Balance("minerB"))
			require.Equal(t, int64(150), stB.TotalSupply())
			t.Logf("\t%s\tTest 0:\tShould recompute the balances from the adopted chain.", success)

			require.Equal(t, uint64(3), stA.Height(), "the longer chain should not change")
			t.Logf("\t%s\tTest 0:\tShould leave node A untouched.", success)
		}
	}
}

func Test_SelfConnection(t *testing.T) {
	t.Log("Given the need to avoid connecting a node to itself.")
	{
		t.Logf("\tTest 0:\tWhen a node dials its own address.")
		{
			node := newNode(t, newState(t, "miner"), nil)

			err := node.Connect(context.Background(), node.Addr())
			require.True(t, errors.Is(err, p2p.ErrSelfConnection), "got %v", err)
			t.Logf("\t%s\tTest 0:\tShould refuse the connection.", success)

			err = node.Connect(context.Background(), node.Addr())
			require.True(t, errors.Is(err, p2p.ErrSelfConnection), "got %v", err)
			require.True(t, p2p.IsNetworkError(err))
			t.Logf("\t%s\tTest 0:\tShould remember the address as its own.", success)

			require.Eventually(t, func() bool {
				return node.ConnectionCount() == 0
			}, waitFor, tick)
			t.Logf("\t%s\tTest 0:\tShould not keep any connection.", success)
		}
	}
}

func Test_Relay(t *testing.T) {
	t.Log("Given the need to relay blocks and transactions to peers.")
	{
		stA := newState(t, "minerA")
		stB := newState(t, "minerB")

		nodeA := newNode(t, stA, nil)
		nodeB := newNode(t, stB, nil)

		connect(t, nodeB, nodeA)

		t.Logf("\tTest 0:\tWhen a transaction is submitted to node A.")
		{
			tx := newAdjustment(t, "alice", "bob", 3)

			tx, added, err := stA.AddTransaction(tx)
			require.NoError(t, err)
			require.True(t, added)

			nodeA.BroadcastTransaction(tx)

			require.Eventually(t, func() bool {
				return stB.KnownTransaction(tx.Hash)
			}, waitFor, tick, "node B should receive the transaction")
			require.Equal(t, 1, stB.MempoolLength())
			t.Logf("\t%s\tTest 0:\tShould admit the transaction in node B.", success)
		}

		t.Logf("\tTest 1:\tWhen node A mines a block.")
		{
			block, err := stA.MineBlock(context.Background())
			require.NoError(t, err)

			nodeA.BroadcastBlock(block)

			require.Eventually(t, func() bool {
				return stB.Height() == 1 && stB.HasBlock(block.Hash())
			}, waitFor, tick, "node B should accept the block")
			require.Equal(t, 0, stB.MempoolLength())
			require.Equal(t, uint64(1), nodeB.Stats().BlocksAccepted)
			require.Equal(t, uint64(1), nodeA.Stats().BlocksAnnounced)
			t.Logf("\t%s\tTest 1:\tShould append the block and prune the mempool.", success)
		}

		t.Logf("\tTest 2:\tWhen node B syncs with node A at the same height.")
		{
			require.NoError(t, nodeB.Sync(context.Background()))
			require.Equal(t, uint64(1), stB.Height())
			t.Logf("\t%s\tTest 2:\tShould have nothing to sync.", success)
		}
	}
}

func Test_Ban(t *testing.T) {
	t.Log("Given the need to ban peers relaying invalid blocks.")
	{
		t.Logf("\tTest 0:\tWhen a peer relays blocks with tampered hashes.")
		{
			peers := peer.NewPeerSet()
			node := newNode(t, newState(t, "miner"), peers)

			conn, err := net.Dial("tcp", node.Addr())
			require.NoError(t, err)
			defer conn.Close()

			require.NoError(t, p2p.WriteFrame(conn, p2p.NewHandshake("rogue", 0, 0)))

			handshake, err := p2p.ReadFrame(conn)
			require.NoError(t, err)
			require.Equal(t, p2p.KindHandshake, handshake.Type)
			require.Equal(t, node.NodeID(), handshake.NodeID)
			t.Logf("\t%s\tTest 0:\tShould complete the handshake.", success)

			block := database.GenesisBlock(easyBits)
			block.Header.Index = 1

			msg, err := p2p.NewBlock(block)
			require.NoError(t, err)

			// Corrupt the hash carried by the relay.
			msg.Data = bytes.ReplaceAll(msg.Data, []byte(block.Hash()), []byte(database.ZeroHash))

			for range peer.DefaultMaxStrikes {
				if err := p2p.WriteFrame(conn, msg); err != nil {
					break
				}
			}

			require.Eventually(t, func() bool {
				return peers.IsBanned("127.0.0.1")
			}, waitFor, tick, "the host should be banned")
			t.Logf("\t%s\tTest 0:\tShould ban the host.", success)

			require.Eventually(t, func() bool {
				return node.ConnectionCount() == 0
			}, waitFor, tick, "the connection should be dropped")
			require.Equal(t, uint64(1), node.Stats().PeersBanned)
			t.Logf("\t%s\tTest 0:\tShould drop the connection.", success)

			other := newNode(t, newState(t, "other"), nil)
			err = other.Connect(context.Background(), node.Addr())
			require.Error(t, err)
			t.Logf("\t%s\tTest 0:\tShould refuse new connections from the host.", success)
		}
	}
}

func Test_PagedSync(t *testing.T) {
	t.Log("Given the need to sync chains longer than one range of blocks.")
	{
		t.Logf("\tTest 0:\tWhen a fresh node connects to a node at height 250.")
		{
			stA := newState(t, "minerA")
			stB := newState(t, "minerB")

			mine(t, stA, 250)

			nodeA := newNode(t, stA, nil)
			nodeB := newNode(t, stB, nil)

			connect(t, nodeB, nodeA)

			require.Eventually(t, func() bool {
				return stB.Height() == 250 && stB.LatestBlock().Hash() == stA.LatestBlock().Hash()
			}, waitFor, tick, "node B should page in the chain of node A")
			require.Equal(t, int64(250*50), stB.Balance("minerA"))
			t.Logf("\t%s\tTest 0:\tShould page in the full chain.", success)
		}

		t.Logf("\tTest 1:\tWhen a node at height 120 on another fork connects to a node at height 250.")
		{
			stA := newState(t, "minerA")
			stB := newState(t, "minerB")

			mine(t, stA, 250)
			mine(t, stB, 120)

			nodeA := newNode(t, stA, nil)
			nodeB := newNode(t, stB, nil)

			connect(t, nodeB, nodeA)

			require.Eventually(t, func() bool {
				return stB.Height() == 250 && stB.LatestBlock().Hash() == stA.LatestBlock().Hash()
			}, waitFor, tick, "node B should walk back to the fork point and adopt the chain of node A")
			require.Equal(t, int64(0), stB.Balance("minerB"))
			require.NoError(t, stB.ValidateLocalChain())
			t.Logf("\t%s\tTest 1:\tShould replace its fork with the longer chain.", success)

			require.Equal(t, uint64(0), nodeA.Stats().PeersBanned)
			require.Equal(t, uint64(0), nodeB.Stats().MessagesRejected)
			t.Logf("\t%s\tTest 1:\tShould not penalize either side.", success)
		}

		t.Logf("\tTest 2:\tWhen a relayed block is more than one block ahead.")
		{
			stA := newState(t, "minerA")
			stB := newState(t, "minerB")

			nodeA := newNode(t, stA, nil)
			nodeB := newNode(t, stB, nil)

			connect(t, nodeB, nodeA)

			mine(t, stA, 3)
			nodeA.BroadcastBlock(stA.LatestBlock())

			require.Eventually(t, func() bool {
				return stB.Height() == 3 && stB.LatestBlock().Hash() == stA.LatestBlock().Hash()
			}, waitFor, tick, "node B should sync the blocks it missed")
			t.Logf("\t%s\tTest 2:\tShould sync the missing blocks.", success)
		}
	}
}

func Test_PeerGossip(t *testing.T) {
	t.Log("Given the need to learn peers from connected peers.")
	{
		t.Logf("\tTest 0:\tWhen node C connects to node B after node A.")
		{
			nodeB := newNode(t, newState(t, "minerB"), nil)
			nodeC := newNode(t, newState(t, "minerC"), nil)
			nodeA := newNodeWith(t, p2p.Config{
				State:               newState(t, "minerA"),
				MaintenanceInterval: 100 * time.Millisecond,
			})

			require.NoError(t, nodeA.Connect(context.Background(), nodeB.Addr()))
			require.NoError(t, nodeC.Connect(context.Background(), nodeB.Addr()))

			require.Eventually(t, func() bool {
				return nodeA.ConnectionCount() == 2 && nodeC.ConnectionCount() == 2
			}, waitFor, tick, "node A should learn node C from node B and dial it")
			t.Logf("\t%s\tTest 0:\tShould dial the learned peer.", success)

			var learned bool
			for _, p := range nodeA.Peers() {
				if p.Addr() == nodeC.Addr() {
					learned = true
				}
			}
			require.True(t, learned, "node C should be in the address book of node A")
			t.Logf("\t%s\tTest 0:\tShould keep the learned peer in the address book.", success)
		}

		t.Logf("\tTest 1:\tWhen a peer asks for the address book.")
		{
			nodeA := newNode(t, newState(t, "minerA"), nil)
			nodeB := newNode(t, newState(t, "minerB"), nil)

			connect(t, nodeA, nodeB)

			conn := dialRaw(t, nodeB, "asker", 1)
			require.NoError(t, p2p.WriteFrame(conn, p2p.NewGetPeers()))

			conn.SetReadDeadline(time.Now().Add(waitFor))

			var msg p2p.Message
			for msg.Type != p2p.KindPeers {
				var err error
				msg, err = p2p.ReadFrame(conn)
				require.NoError(t, err)
			}

			addrs := make(map[string]bool)
			for _, p := range msg.Peers {
				addrs[p.Addr()] = true
			}

			require.True(t, addrs[nodeA.Addr()], "the list should carry node A: %v", addrs)
			t.Logf("\t%s\tTest 1:\tShould list the known peers.", success)

			require.False(t, addrs["127.0.0.1:1"], "the list should not carry the requester: %v", addrs)
			t.Logf("\t%s\tTest 1:\tShould leave out the requester.", success)
		}
	}
}

func Test_Maintenance(t *testing.T) {
	t.Log("Given the need to keep the connections healthy.")
	{
		t.Logf("\tTest 0:\tWhen a peer stays silent past the idle timeout.")
		{
			node := newNodeWith(t, p2p.Config{
				State:               newState(t, "miner"),
				MaintenanceInterval: 100 * time.Millisecond,
				PeerIdleTimeout:     time.Second,
			})

			dialRaw(t, node, "silent", 1)

			require.Eventually(t, func() bool {
				return node.ConnectionCount() == 1
			}, waitFor, tick, "the connection should be established")

			require.Eventually(t, func() bool {
				return node.ConnectionCount() == 0 && len(node.Peers()) == 0
			}, waitFor, tick, "the idle peer should be pruned and disconnected")
			t.Logf("\t%s\tTest 0:\tShould prune and disconnect the peer.", success)
		}

		t.Logf("\tTest 1:\tWhen a seed is not reachable at startup.")
		{
			seed := newNode(t, newState(t, "seed"), nil)
			addr := seed.Addr()
			seed.Shutdown()

			node := newNodeWith(t, p2p.Config{
				State:               newState(t, "miner"),
				Seeds:               []string{addr},
				MinPeers:            1,
				MaintenanceInterval: 100 * time.Millisecond,
			})

			time.Sleep(300 * time.Millisecond)
			require.Equal(t, 0, node.ConnectionCount())
			t.Logf("\t%s\tTest 1:\tShould keep running without the seed.", success)

			seed = newNodeWith(t, p2p.Config{
				Host:  addr,
				State: newState(t, "seed"),
			})

			require.Eventually(t, func() bool {
				return node.ConnectionCount() == 1 && seed.ConnectionCount() == 1
			}, waitFor, tick, "the node should reconnect once the seed is back")
			t.Logf("\t%s\tTest 1:\tShould reconnect to the seed.", success)
		}

		t.Logf("\tTest 2:\tWhen a connection stays idle past the read timeout.")
		{
			node := newNodeWith(t, p2p.Config{
				State:       newState(t, "miner"),
				ReadTimeout: 200 * time.Millisecond,
			})

			conn := dialRaw(t, node, "idle", 1)
			conn.SetReadDeadline(time.Now().Add(waitFor))

			var pings int
			for {
				msg, err := p2p.ReadFrame(conn)
				if err != nil {
					break
				}
				if msg.Type == p2p.KindPing {
					pings++
				}
			}

			require.Equal(t, 2, pings, "the node should ping before giving up")
			t.Logf("\t%s\tTest 2:\tShould ping the idle peer.", success)

			require.Eventually(t, func() bool {
				return node.ConnectionCount() == 0
			}, waitFor, tick, "the connection should be dropped")
			t.Logf("\t%s\tTest 2:\tShould drop the connection after three idle timeouts.", success)
		}
	}
}
