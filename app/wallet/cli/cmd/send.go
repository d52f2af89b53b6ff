package cmd

import (
	"fmt"
	"net/http"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

type submitted struct {
	Added bool        `json:"added"`
	Tx    database.Tx `json:"transaction"`
}

var (
	to     string
	amount int64
	fee    int64
	kind   string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign a transaction and submit it to the node",
	RunE:  sendRun,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Account receiving the amount.")
	sendCmd.Flags().Int64VarP(&amount, "amount", "v", 0, "Amount to send.")
	sendCmd.Flags().Int64VarP(&fee, "fee", "f", 0, "Fee paid to get the transaction mined.")
	sendCmd.Flags().StringVarP(&kind, "kind", "k", string(database.KindTransfer), "Kind of transaction.")
	sendCmd.MarkFlagRequired("to")
	sendCmd.MarkFlagRequired("amount")
}

func sendRun(cmd *cobra.Command, args []string) error {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		return err
	}

	tx, err := database.NewTx(database.TxArgs{
		From:  database.PublicKeyToAccountID(privateKey.PublicKey),
		To:    database.AccountID(to),
		Value: amount,
		Fee:   fee,
		Kind:  database.Kind(kind),
	})
	if err != nil {
		return err
	}

	signed, err := signature.SignTx(tx, privateKey)
	if err != nil {
		return err
	}

	var result submitted
	req := newClient().R().SetBody(signed)
	if err := call(req, http.MethodPost, "/v1/tx/submit", &result); err != nil {
		return err
	}

	if !result.Added {
		fmt.Println("Transaction already known:", result.Tx.Hash)
		return nil
	}

	fmt.Println("Transaction submitted:", result.Tx.Hash)

	return nil
}
