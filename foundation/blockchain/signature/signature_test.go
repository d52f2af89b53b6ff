package signature_test

import (
	"testing"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	from     = "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"
)

// =============================================================================

func Test_Signing(t *testing.T) {
	t.Log("Given the need to sign and verify transactions.")
	{
		pk, err := crypto.HexToECDSA(pkHexKey)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to load the private key : %s", failed, err)
		}

		tx, err := database.NewTx(database.TxArgs{
			From:      from,
			To:        "0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76",
			Value:     10,
			Fee:       1,
			TimeStamp: 1700000000000,
		})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the transaction : %s", failed, err)
		}

		t.Logf("\tTest 0:\tWhen signing with the key of the sender.")
		{
			signed, err := signature.SignTx(tx, pk)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to sign the transaction : %s", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to sign the transaction.", success)

			if signed.Hash != tx.Hash {
				t.Fatalf("\t%s\tTest 0:\tShould not change the content hash.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould not change the content hash.", success)

			sender, err := signature.TxSender(signed)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to recover the sender : %s", failed, err)
			}

			if sender != from {
				t.Logf("\t\tTest 0:\tgot: %s", sender)
				t.Logf("\t\tTest 0:\texp: %s", from)
				t.Fatalf("\t%s\tTest 0:\tShould recover the sender address.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould recover the sender address.", success)

			if err := signed.Validate(signature.Verifier{}); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould validate with the verifier : %s", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould validate with the verifier.", success)

			signed.Price = 99
			signed.Hash = signed.ComputeHash()
			if err := (signature.Verifier{}).Verify(signed); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould survive a price correction : %s", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould survive a price correction.", success)
		}

		t.Logf("\tTest 1:\tWhen the signed content is changed.")
		{
			signed, err := signature.SignTx(tx, pk)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to sign the transaction : %s", failed, err)
			}

			signed.Value = 1000
			signed.Hash = signed.ComputeHash()

			if err := signed.Validate(signature.Verifier{}); !database.IsValidationError(err) {
				t.Fatalf("\t%s\tTest 1:\tShould reject the transaction : got %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould reject the transaction.", success)
		}

		t.Logf("\tTest 2:\tWhen signing for another sender.")
		{
			other := tx
			other.From = "0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76"

			if _, err := signature.SignTx(other, pk); err == nil {
				t.Fatalf("\t%s\tTest 2:\tShould refuse to sign.", failed)
			}
			t.Logf("\t%s\tTest 2:\tShould refuse to sign.", success)
		}

		t.Logf("\tTest 3:\tWhen the sender is privileged.")
		{
			market := tx
			market.From = database.MarketID
			market.Signature = "0xsig"

			if err := (signature.Verifier{}).Verify(market); err != nil {
				t.Fatalf("\t%s\tTest 3:\tShould not check the signature : %s", failed, err)
			}
			t.Logf("\t%s\tTest 3:\tShould not check the signature.", success)
		}

		t.Logf("\tTest 4:\tWhen the signature is garbage.")
		{
			bad := tx
			bad.Signature = "0xsig"

			if err := (signature.Verifier{}).Verify(bad); err == nil {
				t.Fatalf("\t%s\tTest 4:\tShould reject the signature.", failed)
			}
			t.Logf("\t%s\tTest 4:\tShould reject the signature.", success)
		}
	}
}
