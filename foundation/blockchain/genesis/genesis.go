// Package genesis maintains access to the genesis file and the consensus
// parameters every node on the network must agree on.
package genesis

import (
	"encoding/json"
	"errors"
	"os"
	"time"
)

// Genesis represents the genesis file.
type Genesis struct {
	TransPerBlock    uint16 `json:"trans_per_block"`     // The maximum number of transactions that can be in a block.
	InitialReward    int64  `json:"initial_reward"`      // Reward for mining a block before the first halving.
	HalvingInterval  uint64 `json:"halving_interval"`    // Number of blocks between reward halvings.
	MaxSupply        int64  `json:"max_supply"`          // Upper bound on the coins minted by coinbase transactions.
	MaxBits          uint32 `json:"max_bits"`            // Compact encoding of the easiest target allowed.
	RetargetInterval uint64 `json:"retarget_interval"`   // Number of blocks between difficulty adjustments.
	BootstrapBlocks  uint64 `json:"bootstrap_blocks"`    // Blocks mined at the easiest target before retargeting.
	TargetSpacing    int64  `json:"target_spacing_secs"` // Expected seconds between blocks.
}

// Default returns the consensus parameters used when no genesis file is
// provided.
func Default() Genesis {
	return Genesis{
		TransPerBlock:    100,
		InitialReward:    50,
		HalvingInterval:  210_000,
		MaxSupply:        21_000_000,
		MaxBits:          0x1f00ffff,
		RetargetInterval: 50,
		BootstrapBlocks:  100,
		TargetSpacing:    600,
	}
}

// =============================================================================

// Load opens and consumes the genesis file. Fields missing from the file keep
// their default value. An empty path returns the defaults.
func Load(path string) (Genesis, error) {
	genesis := Default()
	if path == "" {
		return genesis, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, err
	}

	if err := genesis.Validate(); err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// Validate checks the parameters are usable.
func (g Genesis) Validate() error {
	switch {
	case g.TransPerBlock == 0:
		return errors.New("genesis: trans_per_block must be positive")
	case g.InitialReward <= 0:
		return errors.New("genesis: initial_reward must be positive")
	case g.HalvingInterval == 0:
		return errors.New("genesis: halving_interval must be positive")
	case g.MaxSupply <= 0:
		return errors.New("genesis: max_supply must be positive")
	case g.MaxBits == 0:
		return errors.New("genesis: max_bits must be set")
	case g.RetargetInterval == 0:
		return errors.New("genesis: retarget_interval must be positive")
	case g.TargetSpacing <= 0:
		return errors.New("genesis: target_spacing_secs must be positive")
	}

	return nil
}

// Reward returns the scheduled coinbase reward for a block at the specified
// height, ignoring the supply cap.
func (g Genesis) Reward(height uint64) int64 {
	halvings := height / g.HalvingInterval
	if halvings >= 63 {
		return 0
	}

	return g.InitialReward >> halvings
}

// RewardWithin returns the coinbase reward for a block at the specified
// height clamped to the supply that remains.
func (g Genesis) RewardWithin(height uint64, supply int64) int64 {
	reward := g.Reward(height)
	if remaining := g.MaxSupply - supply; reward > remaining {
		reward = remaining
	}

	if reward < 0 {
		return 0
	}

	return reward
}

// Spacing returns the expected time between blocks.
func (g Genesis) Spacing() time.Duration {
	return time.Duration(g.TargetSpacing) * time.Second
}
