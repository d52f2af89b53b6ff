package database

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/merkle"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// GenesisTimeStamp is the fixed creation time of the genesis block in unix
// milliseconds. Every node derives the same genesis hash from it.
const GenesisTimeStamp int64 = 1231006505000

// =============================================================================

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Index      uint64 `json:"index"`           // Height of the block in the chain.
	PrevHash   string `json:"previous_hash"`   // Hash of the previous block in the chain.
	TimeStamp  int64  `json:"timestamp"`       // Unix milliseconds when the block was mined.
	MerkleRoot string `json:"merkle_root"`     // Merkle root hash over the block's transactions.
	Nonce      uint64 `json:"nonce"`           // Value identified to solve the hash solution.
	Bits       uint32 `json:"difficulty_bits"` // Compact encoding of the proof of work target.
}

// Hash returns the double sha256 of the canonical header encoding.
func (bh BlockHeader) Hash() string {
	return hashHeader(bh.prefix(), bh.Nonce, bh.Bits)
}

// prefix returns the part of the canonical encoding that precedes the nonce.
func (bh BlockHeader) prefix() []byte {
	b := make([]byte, 0, 192)
	b = strconv.AppendUint(b, bh.Index, 10)
	b = append(b, bh.PrevHash...)
	b = strconv.AppendInt(b, bh.TimeStamp, 10)
	b = append(b, bh.MerkleRoot...)
	return b
}

// hashHeader completes the canonical encoding with the nonce and bits and
// hashes it twice.
func hashHeader(prefix []byte, nonce uint64, bits uint32) string {
	b := make([]byte, 0, len(prefix)+32)
	b = append(b, prefix...)
	b = strconv.AppendUint(b, nonce, 10)
	b = strconv.AppendUint(b, uint64(bits), 10)

	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])

	return hexutil.Encode(second[:])
}

// =============================================================================

// Block represents a group of transactions batched together.
type Block struct {
	Header BlockHeader
	Trans  *merkle.Tree[Tx]
}

// BlockArgs represents the set of fields used to construct a block.
type BlockArgs struct {
	Index     uint64
	PrevHash  string
	TimeStamp int64
	Nonce     uint64
	Bits      uint32
	Trans     []Tx
}

// NewBlock constructs a block and computes the merkle root over the
// transactions.
func NewBlock(args BlockArgs) (Block, error) {
	tree, err := merkle.NewTree(args.Trans)
	if err != nil {
		return Block{}, err
	}

	b := Block{
		Header: BlockHeader{
			Index:      args.Index,
			PrevHash:   args.PrevHash,
			TimeStamp:  args.TimeStamp,
			MerkleRoot: tree.RootHex(),
			Nonce:      args.Nonce,
			Bits:       args.Bits,
		},
		Trans: tree,
	}

	return b, nil
}

// GenesisBlock returns the fixed first block of every chain using the
// specified easiest bits.
func GenesisBlock(bits uint32) Block {
	b, _ := NewBlock(BlockArgs{
		Index:     0,
		PrevHash:  ZeroHash,
		TimeStamp: GenesisTimeStamp,
		Nonce:     0,
		Bits:      bits,
	})

	return b
}

// Hash returns the unique hash for the Block.
func (b Block) Hash() string {
	return b.Header.Hash()
}

// Values returns the transactions in the block in their original order.
func (b Block) Values() []Tx {
	if b.Trans == nil {
		return []Tx{}
	}
	return b.Trans.Values()
}

// Target returns the proof of work target encoded in the header.
func (b Block) Target() *big.Int {
	return BitsToTarget(b.Header.Bits)
}

// Validate verifies the stored merkle root matches the transactions and that
// every non-coinbase transaction is valid.
func (b Block) Validate(v Verifier) error {
	root := hexutil.Encode(sha256Empty())
	if b.Trans != nil {
		root = b.Trans.RootHex()
	}

	if b.Header.MerkleRoot != root {
		return NewValidationError("block %d: merkle root does not match transactions, got %s, exp %s", b.Header.Index, b.Header.MerkleRoot, root)
	}

	if b.Trans != nil {
		if err := b.Trans.Verify(); err != nil {
			return NewValidationError("block %d: merkle tree: %s", b.Header.Index, err)
		}
	}

	for _, tx := range b.Values() {
		if tx.IsCoinbase() {
			continue
		}

		if err := tx.Validate(v); err != nil {
			return NewValidationError("block %d: %s", b.Header.Index, err)
		}
	}

	return nil
}

// Proof returns the merkle proof that the transaction is part of the block.
func (b Block) Proof(tx Tx) (TxProof, error) {
	if b.Trans == nil {
		return TxProof{}, fmt.Errorf("block %d: no transactions", b.Header.Index)
	}

	if err := b.Trans.VerifyData(tx); err != nil {
		return TxProof{}, fmt.Errorf("block %d: tx %s: %w", b.Header.Index, tx.Hash, err)
	}

	hashes, order, err := b.Trans.Proof(tx)
	if err != nil {
		return TxProof{}, fmt.Errorf("block %d: tx %s: %w", b.Header.Index, tx.Hash, err)
	}

	proof := TxProof{
		BlockIndex: b.Header.Index,
		BlockHash:  b.Hash(),
		MerkleRoot: b.Header.MerkleRoot,
		Tx:         tx,
		Hashes:     make([]string, len(hashes)),
		Order:      order,
	}
	for i, h := range hashes {
		proof.Hashes[i] = hexutil.Encode(h)
	}

	return proof, nil
}

// ValidatePOW verifies the block hash satisfies the target in its header.
func (b Block) ValidatePOW() error {
	hash := b.Hash()
	if !HashMeetsTarget(hash, b.Target()) {
		return NewValidationError("block %d: hash %s does not meet target bits %#08x", b.Header.Index, hash, b.Header.Bits)
	}

	return nil
}

// =============================================================================

// POWArgs represents the set of arguments required to run POW.
type POWArgs struct {
	Index     uint64
	PrevHash  string
	Bits      uint32
	Trans     []Tx
	EvHandler func(v string, args ...any)
}

// POW constructs a new Block and performs the work to find a nonce that
// solves the cryptographic POW puzzle.
func POW(ctx context.Context, args POWArgs) (Block, error) {
	nb, err := NewBlock(BlockArgs{
		Index:     args.Index,
		PrevHash:  args.PrevHash,
		TimeStamp: time.Now().UTC().UnixMilli(),
		Bits:      args.Bits,
		Trans:     args.Trans,
	})
	if err != nil {
		return Block{}, err
	}

	ev := args.EvHandler
	if ev == nil {
		ev = func(string, ...any) {}
	}

	if err := nb.performPOW(ctx, ev); err != nil {
		return Block{}, err
	}

	return nb, nil
}

// performPOW does the work of mining to find a valid hash for a specified
// block. Pointer semantics are being used since a nonce is being discovered.
func (b *Block) performPOW(ctx context.Context, ev func(v string, args ...any)) error {
	ev("database: PerformPOW: MINING: started: blk[%d]", b.Header.Index)
	defer ev("database: PerformPOW: MINING: completed: blk[%d]", b.Header.Index)

	for _, tx := range b.Values() {
		ev("database: PerformPOW: MINING: tx[%s]", tx)
	}

	target := b.Target()
	prefix := b.Header.prefix()

	var attempts uint64
	for nonce := uint64(0); ; nonce++ {
		attempts++

		if attempts%1024 == 0 && ctx.Err() != nil {
			ev("database: PerformPOW: MINING: CANCELLED: attempts[%d]", attempts)
			return ctx.Err()
		}

		if attempts%1_000_000 == 0 {
			ev("database: PerformPOW: MINING: attempts[%d]", attempts)
		}

		hash := hashHeader(prefix, nonce, b.Header.Bits)
		if !HashMeetsTarget(hash, target) {
			continue
		}

		b.Header.Nonce = nonce

		ev("database: PerformPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]: attempts[%d]", b.Header.PrevHash, hash, attempts)

		return nil
	}
}

// =============================================================================

// BlockData represents what is written to storage and sent over the network.
type BlockData struct {
	BlockHeader
	Trans []Tx   `json:"transactions"`
	Hash  string `json:"hash"`
}

// NewBlockData constructs the value to serialize.
func NewBlockData(block Block) BlockData {
	return BlockData{
		BlockHeader: block.Header,
		Trans:       block.Values(),
		Hash:        block.Hash(),
	}
}

// ToBlock converts a BlockData into a Block. The stored hash must match the
// hash recomputed from the stored fields.
func ToBlock(bd BlockData) (Block, error) {
	tree, err := merkle.NewTree(bd.Trans)
	if err != nil {
		return Block{}, err
	}

	b := Block{
		Header: bd.BlockHeader,
		Trans:  tree,
	}

	if hash := b.Hash(); bd.Hash != hash {
		return Block{}, NewValidationError("block %d: hash mismatch, got %s, exp %s", bd.Index, bd.Hash, hash)
	}

	return b, nil
}

// Validate reconstructs the block and verifies its integrity.
func (bd BlockData) Validate(v Verifier) error {
	b, err := ToBlock(bd)
	if err != nil {
		return err
	}

	return b.Validate(v)
}

// ToBlocks converts a list of block records into blocks in order.
func ToBlocks(bds []BlockData) ([]Block, error) {
	blocks := make([]Block, len(bds))
	for i, bd := range bds {
		b, err := ToBlock(bd)
		if err != nil {
			return nil, err
		}
		blocks[i] = b
	}

	return blocks, nil
}

// sha256Empty returns the hash of the empty string.
func sha256Empty() []byte {
	h := sha256.Sum256(nil)
	return h[:]
}

// =============================================================================

// TxProof represents the merkle proof that a transaction is part of a block.
// The order tells for every proof hash whether it is concatenated after (1)
// or before (0) the running hash.
type TxProof struct {
	BlockIndex uint64   `json:"block_index"`
	BlockHash  string   `json:"block_hash"`
	MerkleRoot string   `json:"merkle_root"`
	Tx         Tx       `json:"transaction"`
	Hashes     []string `json:"proof"`
	Order      []int64  `json:"order"`
}

// Verify checks the proof hashes lead from the transaction to the merkle
// root.
func (p TxProof) Verify() error {
	leaf, err := p.Tx.Digest()
	if err != nil {
		return NewValidationError("tx %s: digest: %s", p.Tx.Hash, err)
	}

	root, err := hexutil.Decode(p.MerkleRoot)
	if err != nil {
		return NewValidationError("merkle root: %s", err)
	}

	hashes := make([][]byte, len(p.Hashes))
	for i, h := range p.Hashes {
		if hashes[i], err = hexutil.Decode(h); err != nil {
			return NewValidationError("proof hash %d: %s", i, err)
		}
	}

	if !merkle.VerifyProof(leaf, hashes, p.Order, root) {
		return NewValidationError("tx %s: proof does not lead to merkle root %s", p.Tx.Hash, p.MerkleRoot)
	}

	return nil
}
