// Package state is the core API for the blockchain and implements all the
// business rules and processing.
package state

import (
	"errors"
	"sync"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/mempool"
)

// Set of errors returned by the ledger.
var (
	ErrChainNotLonger  = errors.New("chain is not longer than the local chain")
	ErrChainInvalid    = errors.New("chain is invalid")
	ErrChainForked     = errors.New("block does not link to the local tip, start resync")
	ErrSupplyExhausted = errors.New("supply exhausted, no block produced")
	ErrStaleTip        = errors.New("tip changed while mining")
	ErrBlockKnown      = errors.New("block already in the chain")
	ErrBlockStale      = errors.New("block is at or behind the local tip")
	ErrBlockAhead      = errors.New("block is ahead of the local tip, start resync")
	ErrTxNotFound      = errors.New("transaction not found in the chain")
)

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Oracle represents the price oracle used to price market transactions.
type Oracle = mempool.Oracle

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalCancelMining()
}

// nopWorker is used until a worker registers itself with the state.
type nopWorker struct{}

func (nopWorker) Shutdown()           {}
func (nopWorker) SignalStartMining()  {}
func (nopWorker) SignalCancelMining() {}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	MinerAccountID database.AccountID
	Genesis        genesis.Genesis
	Storage        database.Storage
	SelectStrategy string
	Verifier       database.Verifier
	Oracle         Oracle
	EvHandler      EventHandler
}

// State manages the blockchain database. A single lock guards the chain,
// the balances, the difficulty and every mempool mutation.
type State struct {
	mu sync.RWMutex

	minerAccountID database.AccountID
	evHandler      EventHandler
	genesis        genesis.Genesis
	verifier       database.Verifier

	mempool *mempool.Mempool
	db      *database.Database

	Worker Worker
}

// New constructs a new blockchain for data management. The chain is loaded
// from storage or initialized with the genesis block.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if err := cfg.Genesis.Validate(); err != nil {
		return nil, err
	}

	if cfg.SelectStrategy == "" {
		cfg.SelectStrategy = "fee"
	}

	// Construct a mempool with the specified select strategy.
	mp, err := mempool.NewWithStrategy(cfg.SelectStrategy, cfg.Oracle)
	if err != nil {
		return nil, err
	}

	// Load the chain from storage, creating genesis when nothing was
	// persisted before.
	db, err := database.New(cfg.Genesis.MaxBits, cfg.Storage, ev)
	if err != nil {
		return nil, err
	}

	state := State{
		minerAccountID: cfg.MinerAccountID,
		evHandler:      ev,
		genesis:        cfg.Genesis,
		verifier:       cfg.Verifier,
		mempool:        mp,
		db:             db,
		Worker:         nopWorker{},
	}

	// Refuse to run on top of a persisted chain that doesn't validate.
	if err := state.ValidateChain(db.Blocks()); err != nil {
		db.Close()
		return nil, err
	}

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Stop all blockchain writing activity.
	s.Worker.Shutdown()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Close()
}
