// Package private maintains the group of handlers for the node operator.
package private

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ardanlabs/powchain/business/web/errs"
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/p2p"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/ardanlabs/powchain/foundation/validate"
	"github.com/ardanlabs/powchain/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node operator endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	Node  *p2p.Node
}

// Mine mines a single block on top of the local tip and announces it.
func (h Handlers) Mine(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	block, err := h.State.MineBlock(ctx)
	if err != nil {
		switch {
		case errors.Is(err, state.ErrSupplyExhausted):
			return errs.NewTrusted(err, http.StatusConflict)

		case errors.Is(err, state.ErrStaleTip):
			return errs.NewTrusted(err, http.StatusConflict)
		}
		return err
	}

	if h.Node != nil {
		h.Node.BroadcastBlock(block)
	}

	resp := mined{
		Success: true,
		Block:   database.NewBlockData(block),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Peers returns the known peers and the established connections.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if h.Node == nil {
		return errs.NewTrusted(errors.New("peer node is not running"), http.StatusServiceUnavailable)
	}

	resp := peers{
		Success: true,
		NodeID:  h.Node.NodeID(),
		Known:   h.Node.Peers(),
	}

	for _, c := range h.Node.Connections() {
		resp.Connections = append(resp.Connections, connection{
			NodeID:  c.NodeID(),
			Addr:    c.Peer().Addr(),
			Height:  c.Height(),
			Inbound: c.Inbound(),
			State:   c.State().String(),
		})
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Connect dials the specified peer.
func (h Handlers) Connect(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if h.Node == nil {
		return errs.NewTrusted(errors.New("peer node is not running"), http.StatusServiceUnavailable)
	}

	var req connectRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	if err := h.Node.Connect(ctx, req.Host); err != nil {
		return errs.NewTrusted(err, http.StatusBadGateway)
	}

	resp := result{
		Success:   true,
		Height:    h.State.Height(),
		Connected: h.Node.ConnectionCount(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Sync reconciles the local chain with the peers now.
func (h Handlers) Sync(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if h.Node == nil {
		return errs.NewTrusted(errors.New("peer node is not running"), http.StatusServiceUnavailable)
	}

	if err := h.Node.Sync(ctx); err != nil {
		return errs.NewTrusted(err, http.StatusBadGateway)
	}

	resp := result{
		Success: true,
		Height:  h.State.Height(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Discover browses the LAN for nodes and connects to them.
func (h Handlers) Discover(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if h.Node == nil {
		return errs.NewTrusted(errors.New("peer node is not running"), http.StatusServiceUnavailable)
	}

	var req discoverRequest
	if r.ContentLength > 0 {
		if err := web.Decode(r, &req); err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}

		if err := validate.Check(req); err != nil {
			return err
		}
	}

	connected, err := h.Node.Discover(ctx, time.Duration(req.WaitSeconds)*time.Second)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadGateway)
	}

	resp := result{
		Success:   true,
		Height:    h.State.Height(),
		Connected: connected,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
