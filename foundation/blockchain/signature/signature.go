// Package signature provides helper functions for handling the blockchain
// signature needs. Transactions are signed with secp256k1 keys and the
// sender account is the address recovered from the signature.
package signature

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// powID is an arbitrary number added to the recovery id so signatures
// produced for this ledger are recognizable. Ethereum and Bitcoin use 27.
const powID = 29

// =============================================================================

// content is the part of a transaction covered by the signature. The price
// is left out since the mempool may correct it against the oracle.
type content struct {
	From      database.AccountID `json:"sender"`
	To        database.AccountID `json:"recipient"`
	Value     int64              `json:"amount"`
	Fee       int64              `json:"fee"`
	Kind      database.Kind      `json:"kind"`
	TimeStamp int64              `json:"timestamp"`
}

func contentOf(tx database.Tx) content {
	return content{
		From:      tx.From,
		To:        tx.To,
		Value:     tx.Value,
		Fee:       tx.Fee,
		Kind:      tx.Kind,
		TimeStamp: tx.TimeStamp,
	}
}

// =============================================================================

// SignTx signs the transaction with the private key and returns it with the
// signature set. The sender must be the address of the key.
func SignTx(tx database.Tx, privateKey *ecdsa.PrivateKey) (database.Tx, error) {
	from := database.PublicKeyToAccountID(privateKey.PublicKey)
	if !strings.EqualFold(string(from), string(tx.From)) {
		return database.Tx{}, fmt.Errorf("sender %s doesn't match the key address %s", tx.From, from)
	}

	v, r, s, err := Sign(contentOf(tx), privateKey)
	if err != nil {
		return database.Tx{}, err
	}

	tx.Signature = SignatureString(v, r, s)

	return tx, nil
}

// TxSender returns the address that signed the transaction.
func TxSender(tx database.Tx) (database.AccountID, error) {
	if len(tx.Signature) != 2+2*crypto.SignatureLength {
		return "", errors.New("invalid signature length")
	}

	v, r, s, err := ToVRSFromHexSignature(tx.Signature)
	if err != nil {
		return "", err
	}

	if err := VerifySignature(v, r, s); err != nil {
		return "", err
	}

	addr, err := FromAddress(contentOf(tx), v, r, s)
	if err != nil {
		return "", err
	}

	return database.AccountID(addr), nil
}

// =============================================================================

// Verifier checks the signature of a transaction was produced by the key of
// the sender account. Privileged senders carry no key and are not checked.
type Verifier struct{}

// Verify implements the database.Verifier interface.
func (Verifier) Verify(tx database.Tx) error {
	if tx.From.IsPrivileged() {
		return nil
	}

	signer, err := TxSender(tx)
	if err != nil {
		return err
	}

	if !strings.EqualFold(string(signer), string(tx.From)) {
		return fmt.Errorf("signed by %s, not the sender %s", signer, tx.From)
	}

	return nil
}

// =============================================================================

// Sign uses the specified private key to sign the data.
func Sign(value any, privateKey *ecdsa.PrivateKey) (v, r, s *big.Int, err error) {

	// Prepare the data for signing.
	data, err := stamp(value)
	if err != nil {
		return nil, nil, nil, err
	}

	// Sign the hash with the private key to produce a signature.
	sig, err := crypto.Sign(data, privateKey)
	if err != nil {
		return nil, nil, nil, err
	}

	// Extract the public key from the data and the signature.
	publicKey, err := crypto.SigToPub(data, sig)
	if err != nil {
		return nil, nil, nil, err
	}

	// Check the public key extracted from the data and signature.
	rs := sig[:crypto.RecoveryIDOffset]
	if !crypto.VerifySignature(crypto.FromECDSAPub(publicKey), data, rs) {
		return nil, nil, nil, errors.New("invalid signature")
	}

	// Convert the 65 byte signature into the [R|S|V] format.
	v, r, s = toSignatureValues(sig)

	return v, r, s, nil
}

// VerifySignature verifies the signature conforms to our standards.
func VerifySignature(v, r, s *big.Int) error {

	// Check the recovery id is either 0 or 1.
	uintV := v.Uint64() - powID
	if uintV != 0 && uintV != 1 {
		return errors.New("invalid recovery id")
	}

	// Check the signature values are valid.
	if !crypto.ValidateSignatureValues(byte(uintV), r, s, false) {
		return errors.New("invalid signature values")
	}

	return nil
}

// FromAddress extracts the address for the account that signed the data.
func FromAddress(value any, v, r, s *big.Int) (string, error) {

	// Prepare the data for public key extraction.
	data, err := stamp(value)
	if err != nil {
		return "", err
	}

	// Convert the [R|S|V] format into the original 65 bytes.
	sig := ToSignatureBytes(v, r, s)

	// Capture the public key associated with this data and signature.
	publicKey, err := crypto.SigToPub(data, sig)
	if err != nil {
		return "", err
	}

	// Extract the account address from the public key.
	return crypto.PubkeyToAddress(*publicKey).String(), nil
}

// SignatureString returns the signature as a string.
func SignatureString(v, r, s *big.Int) string {
	return hexutil.Encode(ToSignatureBytesWithID(v, r, s))
}

// ToVRSFromHexSignature converts a hex representation of the signature into
// its R, S and V parts.
func ToVRSFromHexSignature(sigStr string) (v, r, s *big.Int, err error) {
	sig, err := hexutil.Decode(sigStr)
	if err != nil {
		return nil, nil, nil, err
	}

	if len(sig) != crypto.SignatureLength {
		return nil, nil, nil, errors.New("invalid signature length")
	}

	r = new(big.Int).SetBytes(sig[:32])
	s = new(big.Int).SetBytes(sig[32:64])
	v = new(big.Int).SetBytes([]byte{sig[64]})

	return v, r, s, nil
}

// =============================================================================

// stamp returns a hash of 32 bytes that represents this data with
// the ledger stamp embedded into the final hash.
func stamp(value any) ([]byte, error) {
	v, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	txHash := crypto.Keccak256(v)

	// The stamp keeps signatures produced for this ledger from being
	// replayed as signatures of other chains.
	stamp := []byte("\x19POW Signed Message:\n32")

	return crypto.Keccak256(stamp, txHash), nil
}

// toSignatureValues converts the signature into the r, s, v values.
func toSignatureValues(sig []byte) (v, r, s *big.Int) {
	r = new(big.Int).SetBytes(sig[:32])
	s = new(big.Int).SetBytes(sig[32:64])
	v = new(big.Int).SetBytes([]byte{sig[64] + powID})

	return v, r, s
}

// ToSignatureBytes converts the r, s, v values into a slice of bytes
// with the removal of the id.
func ToSignatureBytes(v, r, s *big.Int) []byte {
	sig := make([]byte, crypto.SignatureLength)

	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:64])
	sig[64] = byte(v.Uint64() - powID)

	return sig
}

// ToSignatureBytesWithID converts the r, s, v values into a slice of bytes
// keeping the id.
func ToSignatureBytesWithID(v, r, s *big.Int) []byte {
	sig := ToSignatureBytes(v, r, s)
	sig[64] = byte(v.Uint64())

	return sig
}
