package database_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/database/storage/memory"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// easyBits encodes a target where roughly half of all hashes are solutions.
const easyBits uint32 = 0x207fffff

// =============================================================================

func newTx(t *testing.T, from, to database.AccountID, value, fee int64, ts int64) database.Tx {
	t.Helper()

	tx, err := database.NewTx(database.TxArgs{
		From:      from,
		To:        to,
		Value:     value,
		Fee:       fee,
		TimeStamp: ts,
		Signature: "0xsig",
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a transaction: %v", failed, err)
	}

	return tx
}

func mine(t *testing.T, index uint64, prevHash string, trans []database.Tx) database.Block {
	t.Helper()

	block, err := database.POW(context.Background(), database.POWArgs{
		Index:    index,
		PrevHash: prevHash,
		Bits:     easyBits,
		Trans:    trans,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to mine a block: %v", failed, err)
	}

	return block
}

// =============================================================================

func Test_Transaction(t *testing.T) {
	t.Log("Given the need to construct and validate transactions.")
	{
		t.Logf("\tTest 0:\tWhen handling a transfer.")
		{
			tx := newTx(t, "alice", "bob", 10, 1, 1700000000000)

			if tx.Hash != tx.ComputeHash() {
				t.Fatalf("\t%s\tTest 0:\tShould have a hash matching the content.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould have a hash matching the content.", success)

			other := newTx(t, "alice", "bob", 10, 1, 1700000000000)
			if tx.Hash != other.Hash {
				t.Fatalf("\t%s\tTest 0:\tShould produce the same hash for the same content.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould produce the same hash for the same content.", success)

			signed := tx
			signed.Signature = "0xother"
			if signed.ComputeHash() != tx.Hash {
				t.Fatalf("\t%s\tTest 0:\tShould exclude the signature from the hash.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould exclude the signature from the hash.", success)

			if err := tx.Validate(nil); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould validate: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould validate.", success)

			data, err := json.Marshal(tx)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to marshal: %v", failed, err)
			}

			var got database.Tx
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to unmarshal: %v", failed, err)
			}

			again, _ := json.Marshal(got)
			if !bytes.Equal(data, again) || got != tx {
				t.Fatalf("\t%s\tTest 0:\tShould round trip exactly.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould round trip exactly.", success)
		}

		t.Logf("\tTest 1:\tWhen handling invalid transactions.")
		{
			if _, err := database.NewTx(database.TxArgs{From: "alice", To: "bob", Value: 0}); !database.IsValidationError(err) {
				t.Fatalf("\t%s\tTest 1:\tShould reject a zero amount: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould reject a zero amount.", success)

			if _, err := database.NewTx(database.TxArgs{From: database.CoinbaseID, To: "bob", Value: 0}); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould allow a coinbase with no amount: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould allow a coinbase with no amount.", success)

			tx := newTx(t, "alice", "bob", 10, 1, 1700000000000)

			tampered := tx
			tampered.Value = 1000
			if err := tampered.Validate(nil); !database.IsValidationError(err) {
				t.Fatalf("\t%s\tTest 1:\tShould detect a tampered amount: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould detect a tampered amount.", success)

			unsigned := tx
			unsigned.Signature = ""
			if err := unsigned.Validate(nil); err == nil {
				t.Fatalf("\t%s\tTest 1:\tShould reject a missing signature.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould reject a missing signature.", success)

			negFee := tx
			negFee.Fee = -1
			negFee.Hash = negFee.ComputeHash()
			if err := negFee.Validate(nil); err == nil {
				t.Fatalf("\t%s\tTest 1:\tShould reject a negative fee.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould reject a negative fee.", success)

			coinbase := database.NewCoinbaseTx("miner", 50, 1700000000000)
			if !coinbase.IsCoinbase() || coinbase.Validate(nil) != nil {
				t.Fatalf("\t%s\tTest 1:\tShould accept an unsigned coinbase.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould accept an unsigned coinbase.", success)
		}
	}
}

func Test_CompactBits(t *testing.T) {
	type table struct {
		name   string
		bits   uint32
		target *big.Int
		diff   int
	}

	tt := []table{
		{name: "easiest", bits: 0x207fffff, target: new(big.Int).Lsh(big.NewInt(0x7fffff), 232), diff: 1},
		{name: "default", bits: 0x1f00ffff, target: new(big.Int).Lsh(big.NewInt(0xffff), 224), diff: 16},
		{name: "bitcoin", bits: 0x1d00ffff, target: new(big.Int).Lsh(big.NewInt(0xffff), 208), diff: 32},
		{name: "small", bits: 0x02008000, target: big.NewInt(0x80), diff: 248},
	}

	t.Log("Given the need to encode and decode compact difficulty.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen handling bits %#08x.", testID, tst.bits)
				{
					got := database.BitsToTarget(tst.bits)
					if got.Cmp(tst.target) != 0 {
						t.Fatalf("\t%s\tTest %d:\tShould decode the target, got %x, exp %x", failed, testID, got, tst.target)
					}
					t.Logf("\t%s\tTest %d:\tShould decode the target.", success, testID)

					if bits := database.TargetToBits(got); bits != tst.bits {
						t.Fatalf("\t%s\tTest %d:\tShould encode back to the same bits, got %#08x", failed, testID, bits)
					}
					t.Logf("\t%s\tTest %d:\tShould encode back to the same bits.", success, testID)

					if diff := database.DifficultyBits(tst.bits); diff != tst.diff {
						t.Fatalf("\t%s\tTest %d:\tShould require %d leading zero bits, got %d", failed, testID, tst.diff, diff)
					}
					t.Logf("\t%s\tTest %d:\tShould require %d leading zero bits.", success, testID, tst.diff)
				}
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_HashMeetsTarget(t *testing.T) {
	t.Log("Given the need to compare hashes against a target.")
	{
		target := big.NewInt(0x1000)

		if !database.HashMeetsTarget(database.ZeroHash, target) {
			t.Fatalf("\t%s\tShould accept the zero hash.", failed)
		}
		t.Logf("\t%s\tShould accept the zero hash.", success)

		exact := "0x0000000000000000000000000000000000000000000000000000000000001000"
		if !database.HashMeetsTarget(exact, target) {
			t.Fatalf("\t%s\tShould accept a hash equal to the target.", failed)
		}
		t.Logf("\t%s\tShould accept a hash equal to the target.", success)

		above := "0x0000000000000000000000000000000000000000000000000000000000001001"
		if database.HashMeetsTarget(above, target) {
			t.Fatalf("\t%s\tShould reject a hash above the target.", failed)
		}
		t.Logf("\t%s\tShould reject a hash above the target.", success)

		if database.HashMeetsTarget("0x1234", target) {
			t.Fatalf("\t%s\tShould reject a malformed hash.", failed)
		}
		t.Logf("\t%s\tShould reject a malformed hash.", success)
	}
}

func Test_Block(t *testing.T) {
	t.Log("Given the need to construct, mine and validate blocks.")
	{
		genesis := database.GenesisBlock(easyBits)

		t.Logf("\tTest 0:\tWhen handling the genesis block.")
		{
			if genesis.Header.PrevHash != database.ZeroHash || genesis.Header.TimeStamp != database.GenesisTimeStamp {
				t.Fatalf("\t%s\tTest 0:\tShould use the fixed genesis values.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould use the fixed genesis values.", success)

			const emptyRoot = "0xe3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
			if genesis.Header.MerkleRoot != emptyRoot {
				t.Fatalf("\t%s\tTest 0:\tShould have the empty merkle root, got %s", failed, genesis.Header.MerkleRoot)
			}
			t.Logf("\t%s\tTest 0:\tShould have the empty merkle root.", success)

			if genesis.Hash() != database.GenesisBlock(easyBits).Hash() {
				t.Fatalf("\t%s\tTest 0:\tShould be reproducible.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould be reproducible.", success)
		}

		t.Logf("\tTest 1:\tWhen mining a block.")
		{
			trans := []database.Tx{
				database.NewCoinbaseTx("miner", 50, 1700000000000),
				newTx(t, "alice", "bob", 10, 2, 1700000000001),
				newTx(t, "bob", "carol", 3, 1, 1700000000002),
			}

			block := mine(t, 1, genesis.Hash(), trans)

			if err := block.ValidatePOW(); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould satisfy the target: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould satisfy the target.", success)

			if err := block.Validate(nil); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould validate: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould validate.", success)

			same, err := database.NewBlock(database.BlockArgs{
				Index:     block.Header.Index,
				PrevHash:  block.Header.PrevHash,
				TimeStamp: block.Header.TimeStamp,
				Nonce:     block.Header.Nonce,
				Bits:      block.Header.Bits,
				Trans:     trans,
			})
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to construct the block: %v", failed, err)
			}

			if same.Hash() != block.Hash() || same.Header.MerkleRoot != block.Header.MerkleRoot {
				t.Fatalf("\t%s\tTest 1:\tShould be deterministic.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould be deterministic.", success)

			bd := database.NewBlockData(block)
			data, err := json.Marshal(bd)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to marshal: %v", failed, err)
			}

			var got database.BlockData
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to unmarshal: %v", failed, err)
			}

			again, _ := json.Marshal(got)
			if !bytes.Equal(data, again) {
				t.Fatalf("\t%s\tTest 1:\tShould round trip exactly.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould round trip exactly.", success)

			rebuilt, err := database.ToBlock(got)
			if err != nil || rebuilt.Hash() != got.Hash {
				t.Fatalf("\t%s\tTest 1:\tShould recompute the stored hash: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould recompute the stored hash.", success)
		}

		t.Logf("\tTest 2:\tWhen handling tampered block records.")
		{
			block := mine(t, 1, genesis.Hash(), []database.Tx{newTx(t, "alice", "bob", 10, 2, 1700000000001)})

			bd := database.NewBlockData(block)
			bd.Hash = database.ZeroHash
			if _, err := database.ToBlock(bd); !database.IsValidationError(err) {
				t.Fatalf("\t%s\tTest 2:\tShould detect a hash mismatch: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould detect a hash mismatch.", success)

			bd = database.NewBlockData(block)
			bd.Trans[0].Value = 999
			bd.Trans[0].Hash = bd.Trans[0].ComputeHash()
			if err := bd.Validate(nil); !database.IsValidationError(err) {
				t.Fatalf("\t%s\tTest 2:\tShould detect a merkle root mismatch: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould detect a merkle root mismatch.", success)
		}

		t.Logf("\tTest 3:\tWhen mining is cancelled.")
		{
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := database.POW(ctx, database.POWArgs{
				Index:    1,
				PrevHash: genesis.Hash(),
				Bits:     0x03000001,
			})
			if err == nil {
				t.Fatalf("\t%s\tTest 3:\tShould stop searching once cancelled.", failed)
			}
			t.Logf("\t%s\tTest 3:\tShould stop searching once cancelled.", success)
		}
	}
}

func Test_Database(t *testing.T) {
	t.Log("Given the need to maintain the chain and confirmed balances.")
	{
		storage := memory.New()

		db, err := database.New(easyBits, storage, nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to create the database: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to create the database.", success)

		if db.Len() != 1 || db.Height() != 0 {
			t.Fatalf("\t%s\tShould start with the genesis block, len %d", failed, db.Len())
		}
		t.Logf("\t%s\tShould start with the genesis block.", success)

		trans := []database.Tx{
			newTx(t, "alice", "bob", 10, 2, 1700000000001),
			newTx(t, "bob", "carol", 3, 1, 1700000000002),
			newTx(t, "carol", "alice", 1, 0, 1700000000003),
		}
		block := mine(t, 1, db.LatestBlock().Hash(), trans)
		db.Append(block)

		var sum int64
		for _, acct := range db.CopyAccounts() {
			sum += acct.Balance
		}
		if sum != -3 {
			t.Fatalf("\t%s\tShould sum balances to the negative of the fees, got %d", failed, sum)
		}
		t.Logf("\t%s\tShould sum balances to the negative of the fees.", success)

		if db.Balance("alice") != -11 || db.Balance("bob") != 6 || db.Balance("carol") != 2 {
			t.Fatalf("\t%s\tShould apply the transfers, got %d %d %d", failed, db.Balance("alice"), db.Balance("bob"), db.Balance("carol"))
		}
		t.Logf("\t%s\tShould apply the transfers.", success)

		if !db.HasBlock(block.Hash()) || !db.HasTransaction(trans[1].Hash) {
			t.Fatalf("\t%s\tShould index the block and its transactions.", failed)
		}
		t.Logf("\t%s\tShould index the block and its transactions.", success)

		if err := db.Write(); err != nil {
			t.Fatalf("\t%s\tShould be able to write the snapshot: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to write the snapshot.", success)

		reloaded, err := database.New(easyBits, storage, nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to reload the database: %v", failed, err)
		}

		if reloaded.Len() != 2 || reloaded.LatestBlock().Hash() != block.Hash() || reloaded.Balance("bob") != 6 {
			t.Fatalf("\t%s\tShould reload the same chain.", failed)
		}
		t.Logf("\t%s\tShould reload the same chain.", success)

		if storage.Backups() != 1 {
			t.Fatalf("\t%s\tShould keep the prior snapshot as a backup, got %d", failed, storage.Backups())
		}
		t.Logf("\t%s\tShould keep the prior snapshot as a backup.", success)

		if got := reloaded.Range(1, 10); len(got) != 1 || got[0].Hash() != block.Hash() {
			t.Fatalf("\t%s\tShould clamp ranges to the tip.", failed)
		}
		t.Logf("\t%s\tShould clamp ranges to the tip.", success)
	}
}
