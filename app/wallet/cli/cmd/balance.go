package cmd

import (
	"fmt"
	"net/http"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

type balance struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

var balanceAccount string

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print the balance of the wallet, pending transactions included.",
	RunE:  balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().StringVar(&balanceAccount, "of", "", "Account to query instead of the wallet account.")
}

func balanceRun(cmd *cobra.Command, args []string) error {
	accountID := database.AccountID(balanceAccount)
	if accountID == "" {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			return err
		}
		accountID = database.PublicKeyToAccountID(privateKey.PublicKey)
	}

	var bal balance
	req := newClient().R().SetPathParam("account", string(accountID))
	if err := call(req, http.MethodGet, "/v1/balance/{account}", &bal); err != nil {
		return err
	}

	fmt.Println("For Account:", bal.Account)
	fmt.Println("Balance:", bal.Balance)

	return nil
}
