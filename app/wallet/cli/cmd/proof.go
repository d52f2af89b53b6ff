package cmd

import (
	"fmt"
	"net/http"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/spf13/cobra"
)

type txProof struct {
	Proof database.TxProof `json:"proof"`
}

var proofCmd = &cobra.Command{
	Use:   "proof <tx-hash>",
	Short: "Fetch and verify the merkle proof of a confirmed transaction",
	Args:  cobra.ExactArgs(1),
	RunE:  proofRun,
}

func init() {
	rootCmd.AddCommand(proofCmd)
}

func proofRun(cmd *cobra.Command, args []string) error {
	var result txProof
	if err := call(newClient().R(), http.MethodGet, "/v1/tx/proof/"+args[0], &result); err != nil {
		return err
	}

	proof := result.Proof
	if proof.Tx.Hash != args[0] {
		return fmt.Errorf("node returned the proof of tx %s", proof.Tx.Hash)
	}

	if err := proof.Verify(); err != nil {
		return err
	}

	fmt.Printf("tx:     %s\n", proof.Tx.Hash)
	fmt.Printf("block:  %d %s\n", proof.BlockIndex, proof.BlockHash)
	fmt.Printf("root:   %s\n", proof.MerkleRoot)
	fmt.Println("proof:  verified")

	return nil
}
