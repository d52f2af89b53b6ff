// Package metrics exposes the node values to Prometheus. Values are read
// from the ledger and the peer node at scrape time.
package metrics

import (
	"github.com/ardanlabs/powchain/foundation/blockchain/p2p"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "powchain"

// Network represents the behavior of the peer node read by the collector.
type Network interface {
	ConnectionCount() int
	Stats() p2p.Stats
}

// Collector implements the prometheus.Collector interface over a running
// node.
type Collector struct {
	state   *state.State
	network Network

	height     *prometheus.Desc
	mempool    *prometheus.Desc
	supply     *prometheus.Desc
	difficulty *prometheus.Desc
	peers      *prometheus.Desc

	blocksAnnounced  *prometheus.Desc
	blocksAccepted   *prometheus.Desc
	chainsReplaced   *prometheus.Desc
	txsRelayed       *prometheus.Desc
	messagesRejected *prometheus.Desc
	peersBanned      *prometheus.Desc
}

// NewCollector constructs a collector. The network can be nil when the node
// runs without peers.
func NewCollector(st *state.State, network Network) *Collector {
	desc := func(subsystem string, name string, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil)
	}

	return &Collector{
		state:   st,
		network: network,

		height:     desc("chain", "height", "Index of the tip of the local chain."),
		mempool:    desc("mempool", "size", "Number of pending transactions."),
		supply:     desc("chain", "supply", "Total amount minted by coinbase transactions."),
		difficulty: desc("chain", "difficulty_bits", "Leading zero bits of the current target."),
		peers:      desc("p2p", "connections", "Number of established peer connections."),

		blocksAnnounced:  desc("p2p", "blocks_announced_total", "Blocks mined locally and announced to peers."),
		blocksAccepted:   desc("p2p", "blocks_accepted_total", "Relayed blocks appended to the local chain."),
		chainsReplaced:   desc("p2p", "chains_replaced_total", "Local chains replaced by a longer peer chain."),
		txsRelayed:       desc("p2p", "transactions_relayed_total", "Transactions relayed to peers."),
		messagesRejected: desc("p2p", "messages_rejected_total", "Peer messages rejected as invalid."),
		peersBanned:      desc("p2p", "peers_banned_total", "Peer hosts banned for misbehavior."),
	}
}

// Describe implements the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.height
	ch <- c.mempool
	ch <- c.supply
	ch <- c.difficulty

	if c.network == nil {
		return
	}

	ch <- c.peers
	ch <- c.blocksAnnounced
	ch <- c.blocksAccepted
	ch <- c.chainsReplaced
	ch <- c.txsRelayed
	ch <- c.messagesRejected
	ch <- c.peersBanned
}

// Collect implements the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v)
	}

	counter := func(desc *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}

	gauge(c.height, float64(c.state.Height()))
	gauge(c.mempool, float64(c.state.MempoolLength()))
	gauge(c.supply, float64(c.state.TotalSupply()))
	gauge(c.difficulty, float64(c.state.Difficulty().LeadingBit))

	if c.network == nil {
		return
	}

	gauge(c.peers, float64(c.network.ConnectionCount()))

	stats := c.network.Stats()
	counter(c.blocksAnnounced, stats.BlocksAnnounced)
	counter(c.blocksAccepted, stats.BlocksAccepted)
	counter(c.chainsReplaced, stats.ChainsReplaced)
	counter(c.txsRelayed, stats.TxsRelayed)
	counter(c.messagesRejected, stats.MessagesRejected)
	counter(c.peersBanned, stats.PeersBanned)
}
