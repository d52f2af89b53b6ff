// Package database handles all the lower level support for maintaining the
// blockchain in memory and on storage, and the confirmed account balances
// derived from it.
package database

import (
	"errors"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrNoSnapshot is returned by storage when nothing has been persisted yet.
var ErrNoSnapshot = errors.New("no snapshot")

// Snapshot represents the full ledger state that is persisted.
type Snapshot struct {
	Chain  []BlockData `json:"chain"`
	Bits   uint32      `json:"bits"`
	Target string      `json:"target"`
}

// Storage interface represents the behavior required to be implemented by any
// package providing support for storing and reading the ledger snapshot.
type Storage interface {
	Save(snapshot Snapshot) error
	Load() (Snapshot, error)
	Close() error
}

// =============================================================================

// Database manages the chain of blocks and the confirmed account balances
// derived from it. Database is not safe for concurrent use, the owner of the
// value serializes access.
type Database struct {
	blocks    []Block
	hashes    map[string]uint64
	txs       map[string]struct{}
	accounts  map[AccountID]int64
	supply    int64
	bits      uint32
	target    *big.Int
	storage   Storage
	evHandler func(v string, args ...any)
}

// New constructs a database from the persisted snapshot. When no snapshot
// exists the chain is initialized with the genesis block for the specified
// easiest bits.
func New(genesisBits uint32, storage Storage, evHandler func(v string, args ...any)) (*Database, error) {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	db := Database{
		storage:   storage,
		evHandler: ev,
	}

	snapshot, err := storage.Load()
	switch {
	case errors.Is(err, ErrNoSnapshot):
		ev("database: New: no snapshot: creating genesis")

		db.Replace([]Block{GenesisBlock(genesisBits)})
		db.SetBits(genesisBits)

		if err := db.Write(); err != nil {
			return nil, err
		}

		return &db, nil

	case err != nil:
		return nil, err
	}

	blocks, err := ToBlocks(snapshot.Chain)
	if err != nil {
		return nil, err
	}

	if len(blocks) == 0 {
		return nil, errors.New("snapshot holds an empty chain")
	}

	db.Replace(blocks)
	db.SetBits(snapshot.Bits)

	ev("database: New: loaded snapshot: blocks[%d]: bits[%#08x]", len(blocks), snapshot.Bits)

	return &db, nil
}

// Close closes the underlying storage.
func (db *Database) Close() error {
	return db.storage.Close()
}

// Replace swaps the chain for the specified blocks and recomputes every
// derived value.
func (db *Database) Replace(blocks []Block) {
	db.blocks = make([]Block, 0, len(blocks))
	db.hashes = make(map[string]uint64, len(blocks))
	db.txs = make(map[string]struct{})
	db.accounts = make(map[AccountID]int64)
	db.supply = 0

	for _, block := range blocks {
		db.Append(block)
	}
}

// Append adds a block to the end of the chain and applies its transactions
// to the confirmed balances. The block is expected to be validated.
func (db *Database) Append(block Block) {
	db.blocks = append(db.blocks, block)
	db.hashes[block.Hash()] = block.Header.Index

	for _, tx := range block.Values() {
		db.ApplyTransaction(tx)
	}
}

// ApplyTransaction performs the accounting for a confirmed transaction. The
// sender is debited the amount plus the fee and the recipient is credited the
// amount. The fee is not credited to anyone.
func (db *Database) ApplyTransaction(tx Tx) {
	db.accounts[tx.From] -= tx.Cost()
	db.accounts[tx.To] += tx.Value
	db.txs[tx.Hash] = struct{}{}

	if tx.IsCoinbase() {
		db.supply += tx.Value
	}
}

// SetBits sets the current difficulty.
func (db *Database) SetBits(bits uint32) {
	db.bits = bits
	db.target = BitsToTarget(bits)
}

// Bits returns the current difficulty bits.
func (db *Database) Bits() uint32 {
	return db.bits
}

// Target returns a copy of the current numeric target.
func (db *Database) Target() *big.Int {
	return new(big.Int).Set(db.target)
}

// Write persists a snapshot of the current chain and difficulty.
func (db *Database) Write() error {
	chain := make([]BlockData, len(db.blocks))
	for i, block := range db.blocks {
		chain[i] = NewBlockData(block)
	}

	snapshot := Snapshot{
		Chain:  chain,
		Bits:   db.bits,
		Target: hexutil.EncodeBig(db.target),
	}

	return db.storage.Save(snapshot)
}

// =============================================================================

// LatestBlock returns the tip of the chain.
func (db *Database) LatestBlock() Block {
	return db.blocks[len(db.blocks)-1]
}

// Height returns the index of the tip of the chain.
func (db *Database) Height() uint64 {
	return db.LatestBlock().Header.Index
}

// Len returns the number of blocks in the chain including genesis.
func (db *Database) Len() int {
	return len(db.blocks)
}

// Block returns the block at the specified index. The index must be within
// the chain.
func (db *Database) Block(index uint64) Block {
	return db.blocks[index]
}

// Blocks returns a copy of the chain.
func (db *Database) Blocks() []Block {
	blocks := make([]Block, len(db.blocks))
	copy(blocks, db.blocks)
	return blocks
}

// Range returns the blocks with index in [start, end]. The end is clamped
// to the tip of the chain.
func (db *Database) Range(start uint64, end uint64) []Block {
	if end >= uint64(len(db.blocks)) {
		end = uint64(len(db.blocks)) - 1
	}

	if start > end {
		return nil
	}

	blocks := make([]Block, end-start+1)
	copy(blocks, db.blocks[start:end+1])
	return blocks
}

// HasBlock reports whether a block with the specified hash is in the chain.
func (db *Database) HasBlock(hash string) bool {
	_, exists := db.hashes[hash]
	return exists
}

// HasTransaction reports whether a transaction with the specified hash has
// been confirmed.
func (db *Database) HasTransaction(hash string) bool {
	_, exists := db.txs[hash]
	return exists
}

// Balance returns the confirmed balance for the account.
func (db *Database) Balance(accountID AccountID) int64 {
	return db.accounts[accountID]
}

// Supply returns the total amount minted by coinbase transactions.
func (db *Database) Supply() int64 {
	return db.supply
}

// CopyAccounts makes a copy of the confirmed accounts sorted by account id.
func (db *Database) CopyAccounts() []Account {
	accounts := make([]Account, 0, len(db.accounts))
	for accountID, balance := range db.accounts {
		accounts = append(accounts, Account{AccountID: accountID, Balance: balance})
	}

	sort.Sort(byAccount(accounts))
	return accounts
}
