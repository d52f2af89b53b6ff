// Package selector provides different transaction selecting algorithms.
package selector

import (
	"fmt"
	"sort"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// List of different select strategies.
const (
	StrategyFee  = "fee"
	StrategyTime = "time"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyFee:  feeSelect,
	StrategyTime: timeSelect,
}

// Func defines a function that takes the pending transactions in arrival
// order and selects howMany of them in an order based on the functions
// strategy. Receiving -1 for howMany must return all the transactions in
// the strategies ordering.
type Func func(transactions []database.Tx, howMany int) []database.Tx

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// feeSelect returns the transactions paying the highest fee first. Ties are
// broken by the oldest timestamp and then by hash so every node orders the
// same pool the same way.
var feeSelect = func(txs []database.Tx, howMany int) []database.Tx {
	final := make([]database.Tx, len(txs))
	copy(final, txs)

	sort.Sort(byFee(final))

	return limit(final, howMany)
}

// timeSelect returns the transactions in the order they arrived.
var timeSelect = func(txs []database.Tx, howMany int) []database.Tx {
	final := make([]database.Tx, len(txs))
	copy(final, txs)

	return limit(final, howMany)
}

// limit trims the list to howMany transactions.
func limit(txs []database.Tx, howMany int) []database.Tx {
	if howMany < 0 || howMany >= len(txs) {
		return txs
	}
	return txs[:howMany]
}

// =============================================================================

// byFee provides sorting support by the transaction fee value.
type byFee []database.Tx

// Len returns the number of transactions in the list.
func (bf byFee) Len() int {
	return len(bf)
}

// Less helps to sort the list by fee in descending order to pick the
// transactions that provide the best reward.
func (bf byFee) Less(i, j int) bool {
	switch {
	case bf[i].Fee != bf[j].Fee:
		return bf[i].Fee > bf[j].Fee
	case bf[i].TimeStamp != bf[j].TimeStamp:
		return bf[i].TimeStamp < bf[j].TimeStamp
	default:
		return bf[i].Hash < bf[j].Hash
	}
}

// Swap moves transactions in the order of the fee value.
func (bf byFee) Swap(i, j int) {
	bf[i], bf[j] = bf[j], bf[i]
}
