package database

import (
	"math/big"
	"strings"
)

// ZeroHash represents a hash code of zeros.
const ZeroHash string = "0x0000000000000000000000000000000000000000000000000000000000000000"

// Bounds on the number of leading zero bits a block target may demand.
const (
	MinDifficultyBits = 1
	MaxDifficultyBits = 64
)

// MinTarget is the hardest target a block may carry.
var MinTarget = new(big.Int).Lsh(big.NewInt(1), 256-MaxDifficultyBits-1)

// =============================================================================

// BitsToTarget decodes the compact exponent and mantissa representation of
// a target. The high byte is the size of the target in bytes.
func BitsToTarget(bits uint32) *big.Int {
	size := bits >> 24
	mantissa := big.NewInt(int64(bits & 0x007fffff))

	if size <= 3 {
		return mantissa.Rsh(mantissa, uint(8*(3-size)))
	}

	return mantissa.Lsh(mantissa, uint(8*(size-3)))
}

// TargetToBits encodes a target into its compact representation. The
// mantissa is normalized so the sign bit of the encoding is never set.
func TargetToBits(target *big.Int) uint32 {
	if target.Sign() <= 0 {
		return 0
	}

	size := uint32((target.BitLen() + 7) / 8)

	var mantissa uint32
	if size <= 3 {
		mantissa = uint32(new(big.Int).Lsh(target, uint(8*(3-size))).Uint64())
	} else {
		mantissa = uint32(new(big.Int).Rsh(target, uint(8*(size-3))).Uint64())
	}

	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		size++
	}

	return size<<24 | mantissa
}

// DifficultyBits returns the number of leading zero bits a hash needs to
// satisfy the target encoded by bits.
func DifficultyBits(bits uint32) int {
	return 256 - BitsToTarget(bits).BitLen()
}

// HashToBig converts a hex encoded hash into an integer. Leading zeros are
// allowed which is why hexutil.DecodeBig can't be used.
func HashToBig(hash string) (*big.Int, bool) {
	h := strings.TrimPrefix(strings.TrimPrefix(hash, "0x"), "0X")
	if len(h) != 64 {
		return nil, false
	}

	n, ok := new(big.Int).SetString(h, 16)
	if !ok {
		return nil, false
	}

	return n, true
}

// HashMeetsTarget reports whether the hash, read as an integer, is at or
// below the target.
func HashMeetsTarget(hash string, target *big.Int) bool {
	n, ok := HashToBig(hash)
	if !ok {
		return false
	}

	return n.Cmp(target) <= 0
}
