// Package commands contains the functionality for the set of commands
// currently supported by the admin tooling.
package commands

import (
	"fmt"
	"io"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
)

// Status prints the tip, the supply and the difficulty of the stored chain.
func Status(w io.Writer, st *state.State) error {
	diff := st.Difficulty()

	fmt.Fprintf(w, "Height:      %d\n", st.Height())
	fmt.Fprintf(w, "LatestBlock: %s\n", st.LatestBlock().Hash())
	fmt.Fprintf(w, "Supply:      %d\n", st.TotalSupply())
	fmt.Fprintf(w, "Bits:        %08x (%d leading zero bits)\n", diff.Bits, diff.LeadingBit)

	return nil
}

// Balances prints the confirmed balances. When an account is specified only
// that account is printed.
func Balances(w io.Writer, st *state.State, account database.AccountID) error {
	fmt.Fprintf(w, "LatestBlock: %s\n\n", st.LatestBlock().Hash())

	for _, acct := range st.Accounts() {
		if account != "" && acct.AccountID != account {
			continue
		}
		fmt.Fprintf(w, "Account: %s  Balance: %d\n", acct.AccountID, acct.Balance)
	}

	return nil
}

// Blocks prints the headers of the blocks with an index in [from, to].
func Blocks(w io.Writer, st *state.State, from uint64, to uint64) error {
	if from > to {
		return fmt.Errorf("from %d is greater than to %d", from, to)
	}

	for _, block := range st.BlockRange(from, to) {
		fmt.Fprintf(w, "Index: %d  Hash: %s  Prev: %s  Bits: %08x  Nonce: %d  Trans: %d\n",
			block.Header.Index, block.Hash(), block.Header.PrevHash, block.Header.Bits, block.Header.Nonce, len(block.Values()))
	}

	return nil
}

// Transactions prints the confirmed transactions. When an account is
// specified only the transactions sent or received by it are printed.
func Transactions(w io.Writer, st *state.State, account database.AccountID) error {
	for _, block := range st.Blocks() {
		for _, tx := range block.Values() {
			if account != "" && tx.From != account && tx.To != account {
				continue
			}

			fmt.Fprintf(w, "Block: %d  Hash: %s  From: %s  To: %s  Amount: %d  Fee: %d  Kind: %s\n",
				block.Header.Index, tx.Hash, tx.From, tx.To, tx.Value, tx.Fee, tx.Kind)
		}
	}

	return nil
}
