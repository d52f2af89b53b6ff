package selector_test

import (
	"testing"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/mempool/selector"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Strategies(t *testing.T) {
	txs := []database.Tx{
		{Hash: "0xa", Fee: 1, TimeStamp: 1},
		{Hash: "0xb", Fee: 5, TimeStamp: 3},
		{Hash: "0xd", Fee: 5, TimeStamp: 2},
		{Hash: "0xc", Fee: 5, TimeStamp: 2},
	}

	type table struct {
		strategy string
		howMany  int
		exp      []string
	}

	tt := []table{
		{strategy: selector.StrategyFee, howMany: -1, exp: []string{"0xc", "0xd", "0xb", "0xa"}},
		{strategy: selector.StrategyFee, howMany: 2, exp: []string{"0xc", "0xd"}},
		{strategy: selector.StrategyTime, howMany: -1, exp: []string{"0xa", "0xb", "0xd", "0xc"}},
		{strategy: selector.StrategyTime, howMany: 10, exp: []string{"0xa", "0xb", "0xd", "0xc"}},
	}

	t.Log("Given the need to order the pending transactions.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen selecting %d with the %s strategy.", testID, tst.howMany, tst.strategy)
				{
					fn, err := selector.Retrieve(tst.strategy)
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould retrieve the strategy : %s", failed, testID, err)
					}

					got := fn(txs, tst.howMany)
					if len(got) != len(tst.exp) {
						t.Fatalf("\t%s\tTest %d:\tShould select %d transactions, got %d.", failed, testID, len(tst.exp), len(got))
					}

					for i, tx := range got {
						if tx.Hash != tst.exp[i] {
							t.Logf("\t\tTest %d:\tgot: %s", testID, tx.Hash)
							t.Logf("\t\tTest %d:\texp: %s", testID, tst.exp[i])
							t.Fatalf("\t%s\tTest %d:\tShould select in the strategy order.", failed, testID)
						}
					}
					t.Logf("\t%s\tTest %d:\tShould select in the strategy order.", success, testID)
				}
			}

			t.Run(tst.strategy, f)
		}

		t.Logf("\tTest %d:\tWhen asking for an unknown strategy.", len(tt))
		{
			if _, err := selector.Retrieve("tip"); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould refuse the strategy.", failed, len(tt))
			}
			t.Logf("\t%s\tTest %d:\tShould refuse the strategy.", success, len(tt))
		}
	}
}
