package database

import (
	"crypto/ecdsa"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Set of privileged pseudo accounts. These senders are not backed by a key
// and are never balance checked.
const (
	CoinbaseID AccountID = "0"
	MarketID   AccountID = "MARKET"
)

// Account represents the confirmed information for an individual account.
type Account struct {
	AccountID AccountID `json:"account"`
	Balance   int64     `json:"balance"`
}

// =============================================================================

// AccountID represents an address on the ledger. Wallet addresses are hex
// encoded public key addresses, the privileged pseudo accounts are not.
type AccountID string

// ToAccountID converts a string to an account and validates the string is
// usable as an address.
func ToAccountID(s string) (AccountID, error) {
	a := AccountID(strings.TrimSpace(s))
	if a == "" {
		return "", errors.New("invalid account format: empty")
	}

	if strings.ContainsAny(string(a), " \t\r\n") {
		return "", errors.New("invalid account format: whitespace")
	}

	return a, nil
}

// PublicKeyToAccountID converts the public key to an account value.
func PublicKeyToAccountID(pk ecdsa.PublicKey) AccountID {
	return AccountID(crypto.PubkeyToAddress(pk).String())
}

// IsPrivileged reports whether the account is one of the pseudo accounts
// that bypass balance and signature checks.
func (a AccountID) IsPrivileged() bool {
	return a == CoinbaseID || a == MarketID
}

// IsAddress verifies whether the underlying data represents a valid
// hex-encoded key address.
func (a AccountID) IsAddress() bool {
	const addressLength = 20

	if has0xPrefix(a) {
		a = a[2:]
	}

	return len(a) == 2*addressLength && isHex(a)
}

// =============================================================================

// has0xPrefix validates the account starts with a 0x.
func has0xPrefix(a AccountID) bool {
	return len(a) >= 2 && a[0] == '0' && (a[1] == 'x' || a[1] == 'X')
}

// isHex validates whether each byte is valid hexadecimal string.
func isHex(a AccountID) bool {
	if len(a)%2 != 0 {
		return false
	}

	for _, c := range []byte(a) {
		if !isHexCharacter(c) {
			return false
		}
	}

	return true
}

// isHexCharacter returns bool of c being a valid hexadecimal.
func isHexCharacter(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// =============================================================================

// byAccount provides sorting support by the account id value.
type byAccount []Account

// Len returns the number of accounts in the list.
func (ba byAccount) Len() int {
	return len(ba)
}

// Less helps to sort the list by account id in ascending order.
func (ba byAccount) Less(i, j int) bool {
	return ba[i].AccountID < ba[j].AccountID
}

// Swap moves accounts in the order of the account id value.
func (ba byAccount) Swap(i, j int) {
	ba[i], ba[j] = ba[j], ba[i]
}
