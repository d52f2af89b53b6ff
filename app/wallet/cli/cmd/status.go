package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

type status struct {
	NodeID          string `json:"node_id"`
	Height          uint64 `json:"height"`
	LatestBlock     string `json:"latest_block"`
	TotalSupply     int64  `json:"total_supply"`
	LeadingZeroBits int    `json:"leading_zero_bits"`
	Mempool         int    `json:"mempool"`
	Connections     int    `json:"connections"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the status of the node",
	RunE:  statusRun,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusRun(cmd *cobra.Command, args []string) error {
	var st status
	if err := call(newClient().R(), http.MethodGet, "/v1/status", &st); err != nil {
		return err
	}

	fmt.Printf("node:        %s\n", st.NodeID)
	fmt.Printf("height:      %d\n", st.Height)
	fmt.Printf("tip:         %s\n", st.LatestBlock)
	fmt.Printf("supply:      %d\n", st.TotalSupply)
	fmt.Printf("difficulty:  %d bits\n", st.LeadingZeroBits)
	fmt.Printf("mempool:     %d\n", st.Mempool)
	fmt.Printf("connections: %d\n", st.Connections)

	return nil
}
