package p2p

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
)

// MaxFrameSize is the largest payload accepted on the wire.
const MaxFrameSize = 32 << 20

// ProtocolVersion is exchanged in the handshake.
const ProtocolVersion = "1.0"

// Kind represents the type of a wire message.
type Kind string

// The closed set of message kinds.
const (
	KindHandshake     Kind = "handshake"
	KindPing          Kind = "ping"
	KindPong          Kind = "pong"
	KindGetHeight     Kind = "get_height"
	KindHeight        Kind = "height"
	KindGetBlocks     Kind = "get_blocks"
	KindBlocks        Kind = "blocks"
	KindGetBlockRange Kind = "get_block_range"
	KindBlockRange    Kind = "block_range"
	KindNewBlock      Kind = "new_block"
	KindNewTx         Kind = "new_transaction"
	KindGetPeers      Kind = "get_peers"
	KindPeers         Kind = "peers"
)

// IsKnown reports whether the kind is part of the protocol.
func (k Kind) IsKnown() bool {
	switch k {
	case KindHandshake, KindPing, KindPong,
		KindGetHeight, KindHeight,
		KindGetBlocks, KindBlocks,
		KindGetBlockRange, KindBlockRange,
		KindNewBlock, KindNewTx,
		KindGetPeers, KindPeers:
		return true
	}

	return false
}

// =============================================================================

// Message represents every payload exchanged between nodes. Only the fields
// relevant to the message type are set.
type Message struct {
	Type        Kind                 `json:"type"`
	TimeStamp   int64                `json:"timestamp"`
	NodeID      string               `json:"node_id,omitempty"`
	Port        int                  `json:"port,omitempty"`
	Version     string               `json:"version,omitempty"`
	Height      uint64               `json:"height"`
	StartHeight uint64               `json:"start_height"`
	EndHeight   uint64               `json:"end_height"`
	Blocks      []database.BlockData `json:"blocks,omitempty"`
	Data        json.RawMessage      `json:"data,omitempty"`
	Peers       []peer.Peer          `json:"peers,omitempty"`
}

func newMessage(kind Kind) Message {
	return Message{
		Type:      kind,
		TimeStamp: time.Now().UTC().UnixMilli(),
	}
}

// NewHandshake constructs the first message sent on a connection.
func NewHandshake(nodeID string, port int, height uint64) Message {
	msg := newMessage(KindHandshake)
	msg.NodeID = nodeID
	msg.Port = port
	msg.Height = height
	msg.Version = ProtocolVersion

	return msg
}

// NewPing constructs a liveness probe.
func NewPing() Message {
	return newMessage(KindPing)
}

// NewPong constructs the answer to a ping.
func NewPong() Message {
	return newMessage(KindPong)
}

// NewGetHeight constructs a request for the peer's height.
func NewGetHeight() Message {
	return newMessage(KindGetHeight)
}

// NewHeight constructs a height announcement.
func NewHeight(height uint64) Message {
	msg := newMessage(KindHeight)
	msg.Height = height

	return msg
}

// NewGetBlocks constructs a request for the peer's entire chain.
func NewGetBlocks() Message {
	return newMessage(KindGetBlocks)
}

// NewBlocks constructs the answer carrying an entire chain.
func NewBlocks(blocks []database.Block) Message {
	msg := newMessage(KindBlocks)
	msg.Blocks = toBlockData(blocks)

	return msg
}

// NewGetBlockRange constructs a request for the blocks in [start, end].
func NewGetBlockRange(start uint64, end uint64) Message {
	msg := newMessage(KindGetBlockRange)
	msg.StartHeight = start
	msg.EndHeight = end

	return msg
}

// NewBlockRange constructs the answer carrying a range of blocks.
func NewBlockRange(start uint64, blocks []database.Block) Message {
	msg := newMessage(KindBlockRange)
	msg.StartHeight = start
	msg.Blocks = toBlockData(blocks)

	return msg
}

// NewBlock constructs a single block relay.
func NewBlock(block database.Block) (Message, error) {
	data, err := json.Marshal(database.NewBlockData(block))
	if err != nil {
		return Message{}, err
	}

	msg := newMessage(KindNewBlock)
	msg.Data = data

	return msg, nil
}

// NewTransaction constructs a transaction relay.
func NewTransaction(tx database.Tx) (Message, error) {
	data, err := json.Marshal(tx)
	if err != nil {
		return Message{}, err
	}

	msg := newMessage(KindNewTx)
	msg.Data = data

	return msg, nil
}

// NewGetPeers constructs a request for the peer's address book.
func NewGetPeers() Message {
	return newMessage(KindGetPeers)
}

// NewPeers constructs the answer carrying an address book.
func NewPeers(peers []peer.Peer) Message {
	msg := newMessage(KindPeers)
	msg.Peers = peers

	return msg
}

// =============================================================================

// Validate checks the message carries a known type and a timestamp.
func (m Message) Validate() error {
	if !m.Type.IsKnown() {
		return fmt.Errorf("unknown message type %q", m.Type)
	}

	if m.TimeStamp <= 0 {
		return fmt.Errorf("message %s: missing timestamp", m.Type)
	}

	return nil
}

// Block decodes the block carried by a new_block message. The block hash is
// checked against the block content.
func (m Message) Block() (database.Block, error) {
	var bd database.BlockData
	if err := json.Unmarshal(m.Data, &bd); err != nil {
		return database.Block{}, database.NewValidationError("decode block: %s", err)
	}

	return database.ToBlock(bd)
}

// Transaction decodes the transaction carried by a new_transaction message.
func (m Message) Transaction() (database.Tx, error) {
	var tx database.Tx
	if err := json.Unmarshal(m.Data, &tx); err != nil {
		return database.Tx{}, database.NewValidationError("decode transaction: %s", err)
	}

	return tx, nil
}

// BlockList decodes the blocks carried by a blocks or block_range message.
func (m Message) BlockList() ([]database.Block, error) {
	return database.ToBlocks(m.Blocks)
}

// Fits reports whether the message can be written as a single frame.
func (m Message) Fits() bool {
	payload, err := json.Marshal(m)
	return err == nil && len(payload) <= MaxFrameSize
}

// =============================================================================

// WriteFrame writes the message as a 4 byte big endian length followed by the
// JSON payload.
func WriteFrame(w io.Writer, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)

	_, err = w.Write(frame)
	return err
}

// ReadFrame reads one length prefixed message.
func ReadFrame(r io.Reader) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, err
	}

	return readPayload(r, binary.BigEndian.Uint32(header[:]))
}

// readPayload reads and decodes a payload of the specified size.
func readPayload(r io.Reader, size uint32) (Message, error) {
	if size > MaxFrameSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, err
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	if err := msg.Validate(); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	return msg, nil
}

func toBlockData(blocks []database.Block) []database.BlockData {
	data := make([]database.BlockData, len(blocks))
	for i, block := range blocks {
		data[i] = database.NewBlockData(block)
	}

	return data
}
