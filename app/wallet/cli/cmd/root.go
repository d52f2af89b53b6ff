// Package cmd contains the wallet app.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

var (
	accountName string
	accountPath string
	nodeURL     string
)

const keyExtension = ".ecdsa"

func init() {
	rootCmd.PersistentFlags().StringVarP(&accountName, "account", "a", "private.ecdsa", "Name of the private key file.")
	rootCmd.PersistentFlags().StringVarP(&accountPath, "account-path", "p", "zblock/accounts/", "Path to the directory with private keys.")
	rootCmd.PersistentFlags().StringVarP(&nodeURL, "url", "u", "http://localhost:8080", "Url of the node public api.")
}

var rootCmd = &cobra.Command{
	Use:          "wallet",
	Short:        "Wallet for the proof of work ledger",
	SilenceUsage: true,
}

// Execute runs the wallet command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getPrivateKeyPath() string {
	name := accountName
	if !strings.HasSuffix(name, keyExtension) {
		name += keyExtension
	}

	return filepath.Join(accountPath, name)
}

// =============================================================================

// response is the envelope shared by every node api response.
type response struct {
	Success bool              `json:"success"`
	Reason  string            `json:"reason"`
	Fields  map[string]string `json:"fields"`
}

func (r response) err() error {
	if len(r.Fields) > 0 {
		return fmt.Errorf("%s: %v", r.Reason, r.Fields)
	}

	return fmt.Errorf("%s", r.Reason)
}

func newClient() *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimSuffix(nodeURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(10 * time.Second)
}

// call performs the request and decodes the success body into result.
func call(req *resty.Request, method string, path string, result any) error {
	var failure response

	resp, err := req.SetResult(result).SetError(&failure).Execute(method, path)
	if err != nil {
		return err
	}

	if resp.IsError() {
		if failure.Reason == "" {
			return fmt.Errorf("node responded %s", resp.Status())
		}
		return failure.err()
	}

	return nil
}
