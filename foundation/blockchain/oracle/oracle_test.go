package oracle_test

import (
	"testing"

	"github.com/ardanlabs/powchain/foundation/blockchain/oracle"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Fixed(t *testing.T) {
	t.Log("Given the need to quote a price and keep orders.")
	{
		t.Logf("\tTest 0:\tWhen more orders arrive than are kept.")
		{
			o := oracle.NewFixed(100, 2)

			if o.CurrentMarketPrice() != 100 {
				t.Fatalf("\t%s\tTest 0:\tShould quote the configured price : got %d", failed, o.CurrentMarketPrice())
			}
			t.Logf("\t%s\tTest 0:\tShould quote the configured price.", success)

			o.AddOrder(100, 1, "buy")
			o.AddOrder(101, 2, "sell")
			o.AddOrder(102, 3, "buy")

			orders := o.Orders()
			if len(orders) != 2 || orders[0].Amount != 2 || orders[1].Amount != 3 {
				t.Fatalf("\t%s\tTest 0:\tShould keep the most recent orders : got %v", failed, orders)
			}
			t.Logf("\t%s\tTest 0:\tShould keep the most recent orders.", success)

			o.SetPrice(200)
			if o.CurrentMarketPrice() != 200 {
				t.Fatalf("\t%s\tTest 0:\tShould quote the new price : got %d", failed, o.CurrentMarketPrice())
			}
			t.Logf("\t%s\tTest 0:\tShould quote the new price.", success)
		}
	}
}
