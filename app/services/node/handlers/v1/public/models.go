package public

import (
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// newTx is what a wallet submits to the node.
type newTx struct {
	From      database.AccountID `json:"sender" validate:"required"`
	To        database.AccountID `json:"recipient" validate:"required"`
	Value     int64              `json:"amount" validate:"gt=0"`
	Fee       int64              `json:"fee" validate:"gte=0"`
	Price     int64              `json:"price" validate:"gte=0"`
	Kind      database.Kind      `json:"kind" validate:"omitempty,oneof=TRANSFER PURCHASE SELL ADJUSTMENT"`
	TimeStamp int64              `json:"timestamp" validate:"gt=0"`
	Signature string             `json:"signature" validate:"required"`
	Hash      string             `json:"hash"`
}

func toDBTx(ntx newTx) (database.Tx, error) {
	tx, err := database.NewTx(database.TxArgs{
		From:      ntx.From,
		To:        ntx.To,
		Value:     ntx.Value,
		Fee:       ntx.Fee,
		Price:     ntx.Price,
		Kind:      ntx.Kind,
		TimeStamp: ntx.TimeStamp,
		Signature: ntx.Signature,
	})
	if err != nil {
		return database.Tx{}, err
	}

	if ntx.Hash != "" && ntx.Hash != tx.Hash {
		return database.Tx{}, database.NewValidationError("tx hash mismatch, got %s, exp %s", ntx.Hash, tx.Hash)
	}

	return tx, nil
}

type submitted struct {
	Success bool        `json:"success"`
	Added   bool        `json:"added"`
	Tx      database.Tx `json:"transaction"`
}

type balance struct {
	Success bool               `json:"success"`
	Account database.AccountID `json:"account"`
	Balance int64              `json:"balance"`
}

type accounts struct {
	Success  bool               `json:"success"`
	Height   uint64             `json:"height"`
	Accounts []database.Account `json:"accounts"`
}

type blocks struct {
	Success bool                 `json:"success"`
	Blocks  []database.BlockData `json:"blocks"`
}

type mempool struct {
	Success bool          `json:"success"`
	Count   int           `json:"count"`
	Trans   []database.Tx `json:"transactions"`
}

type status struct {
	Success         bool   `json:"success"`
	NodeID          string `json:"node_id,omitempty"`
	Height          uint64 `json:"height"`
	LatestBlock     string `json:"latest_block"`
	TotalSupply     int64  `json:"total_supply"`
	Bits            uint32 `json:"difficulty_bits"`
	LeadingZeroBits int    `json:"leading_zero_bits"`
	Target          string `json:"target"`
	Mempool         int    `json:"mempool"`
	Connections     int    `json:"connections"`
}

type txProof struct {
	Success bool             `json:"success"`
	Proof   database.TxProof `json:"proof"`
}
