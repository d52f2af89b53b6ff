// This program inspects the chain stored by a node while the node is
// stopped.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ardanlabs/powchain/app/tooling/admin/commands"
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/database/storage/disk"
	"github.com/ardanlabs/powchain/foundation/blockchain/database/storage/kv"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/spf13/cobra"
)

var (
	storageKind string
	dbPath      string
	genesisFile string
)

var rootCmd = &cobra.Command{
	Use:          "admin",
	Short:        "Inspect the chain stored by a node",
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&storageKind, "storage", "s", "disk", "Storage of the node: disk or kv.")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db-path", "d", "zblock/blocks.db", "Path of the node storage.")
	rootCmd.PersistentFlags().StringVarP(&genesisFile, "genesis", "g", "", "Genesis file of the network.")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Print the tip, supply and difficulty",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withState(func(st *state.State) error {
					return commands.Status(os.Stdout, st)
				})
			},
		},
		&cobra.Command{
			Use:   "bals [account]",
			Short: "Print the confirmed balances",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withState(func(st *state.State) error {
					return commands.Balances(os.Stdout, st, database.AccountID(argument(args, 0)))
				})
			},
		},
		&cobra.Command{
			Use:   "trans [account]",
			Short: "Print the confirmed transactions",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withState(func(st *state.State) error {
					return commands.Transactions(os.Stdout, st, database.AccountID(argument(args, 0)))
				})
			},
		},
		&cobra.Command{
			Use:   "blocks <from> <to>",
			Short: "Print the block headers in the range",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				from, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid from: %w", err)
				}

				to, err := strconv.ParseUint(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid to: %w", err)
				}

				return withState(func(st *state.State) error {
					return commands.Blocks(os.Stdout, st, from, to)
				})
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withState loads and validates the stored chain before running the command.
func withState(f func(st *state.State) error) error {
	gen, err := genesis.Load(genesisFile)
	if err != nil {
		return fmt.Errorf("loading genesis: %w", err)
	}

	var storage database.Storage
	switch storageKind {
	case "disk":
		storage, err = disk.New(dbPath, 0)
	case "kv":
		storage, err = kv.New(dbPath, 0)
	default:
		return fmt.Errorf("unknown storage %q, expecting disk or kv", storageKind)
	}
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	st, err := state.New(state.Config{
		Genesis: gen,
		Storage: storage,
	})
	if err != nil {
		return fmt.Errorf("loading chain: %w", err)
	}
	defer st.Shutdown()

	return f(st)
}

func argument(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
