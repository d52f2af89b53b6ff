package database

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Kind represents the type of value transfer a transaction performs.
type Kind string

// Set of transaction kinds the ledger accepts.
const (
	KindTransfer   Kind = "TRANSFER"
	KindPurchase   Kind = "PURCHASE"
	KindSell       Kind = "SELL"
	KindAdjustment Kind = "ADJUSTMENT"
)

// IsKnown reports whether the kind is one of the supported kinds.
func (k Kind) IsKnown() bool {
	switch k {
	case KindTransfer, KindPurchase, KindSell, KindAdjustment:
		return true
	}
	return false
}

// =============================================================================

// Verifier represents the behavior required to check the signature of a
// transaction. Key management lives outside of the ledger.
type Verifier interface {
	Verify(tx Tx) error
}

// =============================================================================

// Tx is the transactional information between two parties.
type Tx struct {
	From      AccountID `json:"sender"`          // Account sending the value.
	To        AccountID `json:"recipient"`       // Account receiving the value.
	Value     int64     `json:"amount"`          // Monetary value received from this transaction.
	Fee       int64     `json:"fee"`             // Fee debited from the sender on inclusion.
	Price     int64     `json:"price,omitempty"` // Market price per coin for PURCHASE and SELL.
	Kind      Kind      `json:"kind"`            // Type of value transfer.
	TimeStamp int64     `json:"timestamp"`       // Unix milliseconds when the transaction was created.
	Signature string    `json:"signature,omitempty"`
	Hash      string    `json:"hash"`
}

// TxArgs represents the set of fields used to construct a transaction.
type TxArgs struct {
	From      AccountID
	To        AccountID
	Value     int64
	Fee       int64
	Price     int64
	Kind      Kind
	TimeStamp int64
	Signature string
}

// NewTx constructs a new transaction and computes its hash. The kind defaults
// to a transfer and the timestamp defaults to now.
func NewTx(args TxArgs) (Tx, error) {
	if args.Value <= 0 && args.From != CoinbaseID {
		return Tx{}, NewValidationError("amount must be positive, got %d", args.Value)
	}

	if args.Kind == "" {
		args.Kind = KindTransfer
	}

	if !args.Kind.IsKnown() {
		return Tx{}, NewValidationError("unknown transaction kind %q", args.Kind)
	}

	if args.TimeStamp == 0 {
		args.TimeStamp = time.Now().UTC().UnixMilli()
	}

	tx := Tx{
		From:      args.From,
		To:        args.To,
		Value:     args.Value,
		Fee:       args.Fee,
		Price:     args.Price,
		Kind:      args.Kind,
		TimeStamp: args.TimeStamp,
		Signature: args.Signature,
	}
	tx.Hash = tx.ComputeHash()

	return tx, nil
}

// NewCoinbaseTx constructs the reward transaction for a mined block.
func NewCoinbaseTx(to AccountID, reward int64, timeStamp int64) Tx {
	tx := Tx{
		From:      CoinbaseID,
		To:        to,
		Value:     reward,
		Kind:      KindTransfer,
		TimeStamp: timeStamp,
	}
	tx.Hash = tx.ComputeHash()

	return tx
}

// ComputeHash returns the content hash of the transaction. The hash and the
// signature are not part of the content since the signature signs the hash.
func (tx Tx) ComputeHash() string {
	content := struct {
		From      AccountID `json:"sender"`
		To        AccountID `json:"recipient"`
		Value     int64     `json:"amount"`
		Fee       int64     `json:"fee"`
		Price     int64     `json:"price"`
		Kind      Kind      `json:"kind"`
		TimeStamp int64     `json:"timestamp"`
	}{
		From:      tx.From,
		To:        tx.To,
		Value:     tx.Value,
		Fee:       tx.Fee,
		Price:     tx.Price,
		Kind:      tx.Kind,
		TimeStamp: tx.TimeStamp,
	}

	data, err := json.Marshal(content)
	if err != nil {
		return ZeroHash
	}

	hash := sha256.Sum256(data)
	return hexutil.Encode(hash[:])
}

// IsCoinbase reports whether this is a mining reward transaction.
func (tx Tx) IsCoinbase() bool {
	return tx.From == CoinbaseID
}

// Cost returns the total amount debited from the sender.
func (tx Tx) Cost() int64 {
	return tx.Value + tx.Fee
}

// Validate checks the transaction is well formed and the stored hash matches
// the content. Signature verification is delegated to the verifier when one
// is provided.
func (tx Tx) Validate(v Verifier) error {
	if !tx.IsCoinbase() {
		if tx.From == "" {
			return NewValidationError("tx %s: missing sender", tx.Hash)
		}

		if tx.Value <= 0 {
			return NewValidationError("tx %s: amount must be positive, got %d", tx.Hash, tx.Value)
		}

		if tx.Signature == "" {
			return NewValidationError("tx %s: missing signature", tx.Hash)
		}
	}

	if tx.IsCoinbase() {
		if tx.Value <= 0 {
			return NewValidationError("tx %s: coinbase amount must be positive, got %d", tx.Hash, tx.Value)
		}

		if tx.Fee != 0 {
			return NewValidationError("tx %s: coinbase can't carry a fee, got %d", tx.Hash, tx.Fee)
		}
	}

	if tx.To == "" {
		return NewValidationError("tx %s: missing recipient", tx.Hash)
	}

	if tx.Fee < 0 {
		return NewValidationError("tx %s: fee must not be negative, got %d", tx.Hash, tx.Fee)
	}

	if !tx.Kind.IsKnown() {
		return NewValidationError("tx %s: unknown kind %q", tx.Hash, tx.Kind)
	}

	if hash := tx.ComputeHash(); tx.Hash != hash {
		return NewValidationError("tx hash mismatch, got %s, exp %s", tx.Hash, hash)
	}

	if v != nil && !tx.IsCoinbase() {
		if err := v.Verify(tx); err != nil {
			return NewValidationError("tx %s: signature: %s", tx.Hash, err)
		}
	}

	return nil
}

// Digest implements the merkle Hashable interface for providing the leaf
// hash of a transaction.
func (tx Tx) Digest() ([]byte, error) {
	return hexutil.Decode(tx.ComputeHash())
}

// Equals implements the merkle Hashable interface for providing an equality
// check between two transactions.
func (tx Tx) Equals(otherTx Tx) bool {
	return tx.ComputeHash() == otherTx.ComputeHash()
}

// String implements the fmt.Stringer interface for logging.
func (tx Tx) String() string {
	return fmt.Sprintf("%s:%s->%s:%d", tx.Kind, tx.From, tx.To, tx.Value)
}
