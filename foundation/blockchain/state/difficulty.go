package state

import (
	"math/big"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
)

// Bounds and scale of the per-mille retarget ratio.
const (
	perMille      = 1000
	minRatioMille = 800
	maxRatioMille = 1250
)

// nextTarget returns the target that applies after the tip of the chain has
// been committed.
//
// The first BootstrapBlocks blocks always use the easiest target. After that,
// every RetargetInterval blocks the actual time taken by the last interval is
// compared to the expected time. The ratio is clamped to [0.8, 1.25] and only
// half of the correction is applied. Every HalvingInterval blocks the target
// is also tightened by 10%.
func nextTarget(gen genesis.Genesis, tip database.Block, blockAt func(index uint64) database.Block, current *big.Int) *big.Int {
	maxTarget := database.BitsToTarget(gen.MaxBits)

	height := tip.Header.Index

	if height < gen.BootstrapBlocks {
		return maxTarget
	}

	target := new(big.Int).Set(current)

	if height%gen.RetargetInterval == 0 && height >= gen.RetargetInterval {
		first := blockAt(height - gen.RetargetInterval)

		actual := tip.Header.TimeStamp - first.Header.TimeStamp
		expected := int64(gen.RetargetInterval) * gen.TargetSpacing * 1000

		ratio := actual * perMille / expected
		switch {
		case ratio < minRatioMille:
			ratio = minRatioMille
		case ratio > maxRatioMille:
			ratio = maxRatioMille
		}

		correction := (ratio + perMille) / 2

		target.Mul(target, big.NewInt(correction))
		target.Div(target, big.NewInt(perMille))
	}

	if height > 0 && height%gen.HalvingInterval == 0 {
		target.Mul(target, big.NewInt(9))
		target.Div(target, big.NewInt(10))
	}

	if target.Cmp(maxTarget) > 0 {
		target.Set(maxTarget)
	}

	if target.Cmp(database.MinTarget) < 0 {
		target.Set(database.MinTarget)
	}

	// Normalize through the compact encoding so the stored target always
	// matches the bits blocks will carry.
	return database.BitsToTarget(database.TargetToBits(target))
}

// replayTarget recomputes the target for the tip of the chain by replaying
// every retarget from genesis.
func replayTarget(gen genesis.Genesis, chain []database.Block) *big.Int {
	blockAt := func(index uint64) database.Block {
		return chain[index]
	}

	target := database.BitsToTarget(gen.MaxBits)
	for i := 1; i < len(chain); i++ {
		target = nextTarget(gen, chain[i], blockAt, target)
	}

	return target
}
