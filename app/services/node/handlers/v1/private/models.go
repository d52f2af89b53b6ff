package private

import (
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
)

type connectRequest struct {
	Host string `json:"host" validate:"required,hostname_port"`
}

type discoverRequest struct {
	WaitSeconds int `json:"wait_seconds" validate:"gte=0,lte=60"`
}

type mined struct {
	Success bool               `json:"success"`
	Block   database.BlockData `json:"block"`
}

type connection struct {
	NodeID  string `json:"node_id"`
	Addr    string `json:"addr"`
	Height  uint64 `json:"height"`
	Inbound bool   `json:"inbound"`
	State   string `json:"state"`
}

type peers struct {
	Success     bool         `json:"success"`
	NodeID      string       `json:"node_id"`
	Known       []peer.Peer  `json:"known"`
	Connections []connection `json:"connections"`
}

type result struct {
	Success   bool   `json:"success"`
	Height    uint64 `json:"height"`
	Connected int    `json:"connected,omitempty"`
}
