// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ardanlabs/powchain/business/web/errs"
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/p2p"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/ardanlabs/powchain/foundation/events"
	"github.com/ardanlabs/powchain/foundation/validate"
	"github.com/ardanlabs/powchain/foundation/web"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	Node  *p2p.Node
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitTransaction adds a new wallet transaction to the mempool and relays
// it to the peers.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var ntx newTx
	if err := web.Decode(r, &ntx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := validate.Check(ntx); err != nil {
		return err
	}

	tx, err := toDBTx(ntx)
	if err != nil {
		return err
	}

	h.Log.Infow("submit tx", "traceid", v.TraceID, "hash", tx.Hash, "from", tx.From, "to", tx.To, "amount", tx.Value, "fee", tx.Fee)

	tx, added, err := h.State.AddTransaction(tx)
	if err != nil {
		return err
	}

	if added && h.Node != nil {
		h.Node.BroadcastTransaction(tx)
	}

	resp := submitted{
		Success: true,
		Added:   added,
		Tx:      tx,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Genesis returns the consensus parameters.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Genesis(), http.StatusOK)
}

// Status returns the state of the ledger and the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	diff := h.State.Difficulty()

	resp := status{
		Success:         true,
		Height:          h.State.Height(),
		LatestBlock:     h.State.LatestBlock().Hash(),
		TotalSupply:     h.State.TotalSupply(),
		Bits:            diff.Bits,
		LeadingZeroBits: diff.LeadingBit,
		Target:          hexutil.EncodeBig(diff.Target),
		Mempool:         h.State.MempoolLength(),
	}

	if h.Node != nil {
		resp.NodeID = h.Node.NodeID()
		resp.Connections = h.Node.ConnectionCount()
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Accounts returns the confirmed balances of every account.
func (h Handlers) Accounts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := accounts{
		Success:  true,
		Height:   h.State.Height(),
		Accounts: h.State.Accounts(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Balance returns the balance of the account including pending transactions.
func (h Handlers) Balance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	accountID, err := database.ToAccountID(web.Param(r, "account"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := balance{
		Success: true,
		Account: accountID,
		Balance: h.State.Balance(accountID),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Blocks returns the blocks with an index in the specified range.
func (h Handlers) Blocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := strconv.ParseUint(web.Param(r, "from"), 10, 64)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("invalid from: %w", err), http.StatusBadRequest)
	}

	to, err := strconv.ParseUint(web.Param(r, "to"), 10, 64)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("invalid to: %w", err), http.StatusBadRequest)
	}

	if from > to {
		return errs.NewTrusted(errors.New("from is greater than to"), http.StatusBadRequest)
	}

	// Keep the response bounded like a block range on the wire.
	if to-from+1 > state.MaxGraftBlocks {
		to = from + state.MaxGraftBlocks - 1
	}

	list := h.State.BlockRange(from, to)

	resp := blocks{
		Success: true,
		Blocks:  make([]database.BlockData, len(list)),
	}
	for i, block := range list {
		resp.Blocks[i] = database.NewBlockData(block)
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// TransactionProof returns the merkle proof that a confirmed transaction is
// part of its block.
func (h Handlers) TransactionProof(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	proof, err := h.State.TransactionProof(web.Param(r, "hash"))
	if err != nil {
		if errors.Is(err, state.ErrTxNotFound) {
			return errs.NewTrusted(err, http.StatusNotFound)
		}
		return err
	}

	resp := txProof{
		Success: true,
		Proof:   proof,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Mempool returns the set of pending transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	trans := h.State.Mempool()

	resp := mempool{
		Success: true,
		Count:   len(trans),
		Trans:   trans,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
