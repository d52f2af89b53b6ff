package metrics_test

import (
	"context"
	"testing"

	"github.com/ardanlabs/powchain/foundation/blockchain/database/storage/memory"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/metrics"
	"github.com/ardanlabs/powchain/foundation/blockchain/p2p"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type network struct{}

func (network) ConnectionCount() int { return 2 }

func (network) Stats() p2p.Stats {
	return p2p.Stats{BlocksAccepted: 4, PeersBanned: 1}
}

func Test_Collector(t *testing.T) {
	gen := genesis.Default()
	gen.MaxBits = 0x207fffff

	st, err := state.New(state.Config{
		MinerAccountID: "miner",
		Genesis:        gen,
		Storage:        memory.New(),
	})
	require.NoError(t, err)
	defer st.Shutdown()

	_, err = st.MineBlock(context.Background())
	require.NoError(t, err)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(metrics.NewCollector(st, network{})))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		m := mf.GetMetric()[0]
		switch {
		case m.GetGauge() != nil:
			values[mf.GetName()] = m.GetGauge().GetValue()
		case m.GetCounter() != nil:
			values[mf.GetName()] = m.GetCounter().GetValue()
		}
	}

	require.Equal(t, float64(1), values["powchain_chain_height"])
	require.Equal(t, float64(50), values["powchain_chain_supply"])
	require.Equal(t, float64(0), values["powchain_mempool_size"])
	require.Equal(t, float64(2), values["powchain_p2p_connections"])
	require.Equal(t, float64(4), values["powchain_p2p_blocks_accepted_total"])
	require.Equal(t, float64(1), values["powchain_p2p_peers_banned_total"])
	require.Equal(t, float64(1), values["powchain_chain_difficulty_bits"])

	reg = prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(metrics.NewCollector(st, nil)))

	families, err = reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 4)
}
