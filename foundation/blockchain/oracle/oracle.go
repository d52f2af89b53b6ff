// Package oracle provides a fixed price oracle for market transactions. The
// real price feed lives outside of the node, this implementation keeps the
// market side of the ledger usable without one.
package oracle

import (
	"sync"
	"sync/atomic"
)

// Order represents a market order reported by the mempool.
type Order struct {
	Price  int64
	Amount int64
	Side   string
}

// Fixed is an oracle that always quotes the same price and keeps the most
// recent orders.
type Fixed struct {
	price atomic.Int64

	mu        sync.Mutex
	orders    []Order
	maxOrders int
}

// NewFixed constructs an oracle quoting the specified price. The last
// maxOrders orders are kept.
func NewFixed(price int64, maxOrders int) *Fixed {
	if maxOrders <= 0 {
		maxOrders = 1000
	}

	f := Fixed{
		maxOrders: maxOrders,
	}
	f.price.Store(price)

	return &f
}

// CurrentMarketPrice returns the quoted price.
func (f *Fixed) CurrentMarketPrice() int64 {
	return f.price.Load()
}

// SetPrice changes the quoted price.
func (f *Fixed) SetPrice(price int64) {
	f.price.Store(price)
}

// AddOrder records the order.
func (f *Fixed) AddOrder(price int64, amount int64, side string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.orders = append(f.orders, Order{Price: price, Amount: amount, Side: side})
	if len(f.orders) > f.maxOrders {
		f.orders = f.orders[len(f.orders)-f.maxOrders:]
	}
}

// Orders returns a copy of the recorded orders, oldest first.
func (f *Fixed) Orders() []Order {
	f.mu.Lock()
	defer f.mu.Unlock()

	orders := make([]Order, len(f.orders))
	copy(orders, f.orders)

	return orders
}
