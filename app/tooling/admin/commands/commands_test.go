package commands_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/ardanlabs/powchain/app/tooling/admin/commands"
	"github.com/ardanlabs/powchain/foundation/blockchain/database/storage/memory"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Commands(t *testing.T) {
	t.Log("Given the need to inspect a stored chain.")
	{
		gen := genesis.Default()
		gen.MaxBits = 0x207fffff

		st, err := state.New(state.Config{
			MinerAccountID: "miner",
			Genesis:        gen,
			Storage:        memory.New(),
		})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the state : %s", failed, err)
		}
		defer st.Shutdown()

		for range 2 {
			if _, err := st.MineBlock(context.Background()); err != nil {
				t.Fatalf("\t%s\tShould be able to mine a block : %s", failed, err)
			}
		}

		t.Logf("\tTest 0:\tWhen printing the balances of the miner.")
		{
			var buf bytes.Buffer
			if err := commands.Balances(&buf, st, "miner"); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould print the balances : %s", failed, err)
			}

			if !strings.Contains(buf.String(), "Account: miner  Balance: 100") {
				t.Logf("\t\tTest 0:\tgot: %s", buf.String())
				t.Fatalf("\t%s\tTest 0:\tShould print the reward of both blocks.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould print the reward of both blocks.", success)
		}

		t.Logf("\tTest 1:\tWhen printing the blocks.")
		{
			var buf bytes.Buffer
			if err := commands.Blocks(&buf, st, 0, 10); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould print the blocks : %s", failed, err)
			}

			if lines := strings.Count(buf.String(), "\n"); lines != 3 {
				t.Fatalf("\t%s\tTest 1:\tShould print three blocks, got %d.", failed, lines)
			}
			t.Logf("\t%s\tTest 1:\tShould print three blocks.", success)

			if err := commands.Blocks(&buf, st, 5, 1); err == nil {
				t.Fatalf("\t%s\tTest 1:\tShould refuse an inverted range.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould refuse an inverted range.", success)
		}

		t.Logf("\tTest 2:\tWhen printing the transactions of the miner.")
		{
			var buf bytes.Buffer
			if err := commands.Transactions(&buf, st, "miner"); err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould print the transactions : %s", failed, err)
			}

			if lines := strings.Count(buf.String(), "\n"); lines != 2 {
				t.Fatalf("\t%s\tTest 2:\tShould print both coinbase transactions, got %d.", failed, lines)
			}
			t.Logf("\t%s\tTest 2:\tShould print both coinbase transactions.", success)
		}
	}
}
