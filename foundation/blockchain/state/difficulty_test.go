package state

import (
	"math/big"
	"testing"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// spacedBlocks returns a lookup for blocks mined every spacing milliseconds.
func spacedBlocks(spacing int64) func(index uint64) database.Block {
	return func(index uint64) database.Block {
		return database.Block{
			Header: database.BlockHeader{
				Index:     index,
				TimeStamp: database.GenesisTimeStamp + int64(index)*spacing,
			},
		}
	}
}

func scaled(target *big.Int, num int64, den int64) *big.Int {
	v := new(big.Int).Mul(target, big.NewInt(num))
	v.Div(v, big.NewInt(den))

	return database.BitsToTarget(database.TargetToBits(v))
}

func Test_NextTarget(t *testing.T) {
	gen := genesis.Default()
	maxTarget := database.BitsToTarget(gen.MaxBits)
	current := database.BitsToTarget(0x1e00ffff)

	onTime := gen.TargetSpacing * 1000

	tt := []struct {
		name    string
		gen     genesis.Genesis
		height  uint64
		spacing int64
		current *big.Int
		exp     *big.Int
	}{
		{name: "bootstrap", gen: gen, height: 10, spacing: onTime / 10, current: current, exp: maxTarget},
		{name: "off-interval", gen: gen, height: 151, spacing: onTime / 10, current: current, exp: current},
		{name: "on-time", gen: gen, height: 150, spacing: onTime, current: current, exp: current},
		{name: "fast", gen: gen, height: 150, spacing: onTime / 2, current: current, exp: scaled(current, 900, 1000)},
		{name: "very-fast", gen: gen, height: 150, spacing: onTime / 10, current: current, exp: scaled(current, 900, 1000)},
		{name: "slow", gen: gen, height: 150, spacing: onTime * 11 / 10, current: current, exp: scaled(current, 1050, 1000)},
		{name: "very-slow", gen: gen, height: 150, spacing: onTime * 3, current: current, exp: scaled(current, 1125, 1000)},
		{name: "capped", gen: gen, height: 150, spacing: onTime * 3, current: maxTarget, exp: maxTarget},
		{name: "halving", gen: func() genesis.Genesis { g := gen; g.HalvingInterval = 175; return g }(), height: 175, spacing: onTime, current: current, exp: scaled(current, 9, 10)},
		{name: "halving-retarget", gen: func() genesis.Genesis { g := gen; g.HalvingInterval = 200; return g }(), height: 200, spacing: onTime, current: current, exp: scaled(scaled(current, 1000, 1000), 9, 10)},
	}

	t.Log("Given the need to retarget the difficulty.")
	{
		for testID, test := range tt {
			tf := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen handling %s.", testID, test.name)
				{
					blockAt := spacedBlocks(test.spacing)

					got := nextTarget(test.gen, blockAt(test.height), blockAt, test.current)
					if got.Cmp(test.exp) != 0 {
						t.Fatalf("\t%s\tTest %d:\tShould compute the next target : got %#x, exp %#x", failed, testID, got, test.exp)
					}
					t.Logf("\t%s\tTest %d:\tShould compute the next target.", success, testID)

					if got.Cmp(maxTarget) > 0 || got.Cmp(database.MinTarget) < 0 {
						t.Fatalf("\t%s\tTest %d:\tShould stay within bounds.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould stay within bounds.", success, testID)
				}
			}

			t.Run(test.name, tf)
		}
	}
}

func Test_ReplayTarget(t *testing.T) {
	t.Log("Given the need to recompute the difficulty of a chain.")
	{
		t.Logf("\tTest 0:\tWhen the chain is still bootstrapping.")
		{
			gen := genesis.Default()

			blockAt := spacedBlocks(1000)
			chain := make([]database.Block, 20)
			for i := range chain {
				chain[i] = blockAt(uint64(i))
			}

			got := replayTarget(gen, chain)
			if got.Cmp(database.BitsToTarget(gen.MaxBits)) != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould use the easiest target : got %#x", failed, got)
			}
			t.Logf("\t%s\tTest 0:\tShould use the easiest target.", success)
		}

		t.Logf("\tTest 1:\tWhen the chain crossed a retarget.")
		{
			gen := genesis.Default()

			blockAt := spacedBlocks(gen.TargetSpacing * 1000 / 4)
			chain := make([]database.Block, 152)
			for i := range chain {
				chain[i] = blockAt(uint64(i))
			}

			maxTarget := database.BitsToTarget(gen.MaxBits)

			// Heights 100 and 150 both retarget with blocks four times too fast.
			exp := scaled(scaled(maxTarget, 900, 1000), 900, 1000)

			got := replayTarget(gen, chain)
			if got.Cmp(exp) != 0 {
				t.Fatalf("\t%s\tTest 1:\tShould tighten the target twice : got %#x, exp %#x", failed, got, exp)
			}
			t.Logf("\t%s\tTest 1:\tShould tighten the target twice.", success)
		}
	}
}
