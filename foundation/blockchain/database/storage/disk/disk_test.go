package disk_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/database/storage/disk"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Disk(t *testing.T) {
	t.Log("Given the need to persist the ledger snapshot to disk.")
	{
		path := filepath.Join(t.TempDir(), "chain", "ledger.json")

		d, err := disk.New(path, 2)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the storage: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to construct the storage.", success)

		if _, err := d.Load(); !errors.Is(err, database.ErrNoSnapshot) {
			t.Fatalf("\t%s\tShould report no snapshot before the first save: %v", failed, err)
		}
		t.Logf("\t%s\tShould report no snapshot before the first save.", success)

		genesis := database.NewBlockData(database.GenesisBlock(0x207fffff))
		for i := 0; i < 4; i++ {
			snapshot := database.Snapshot{
				Chain:  []database.BlockData{genesis},
				Bits:   0x207fffff - uint32(i),
				Target: "0x1",
			}
			if err := d.Save(snapshot); err != nil {
				t.Fatalf("\t%s\tShould be able to save snapshot %d: %v", failed, i, err)
			}
		}
		t.Logf("\t%s\tShould be able to save snapshots.", success)

		got, err := d.Load()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to load the snapshot: %v", failed, err)
		}

		if got.Bits != 0x207fffff-3 || len(got.Chain) != 1 || got.Chain[0].Hash != genesis.Hash {
			t.Fatalf("\t%s\tShould load the latest snapshot, got bits %#08x", failed, got.Bits)
		}
		t.Logf("\t%s\tShould load the latest snapshot.", success)

		backups, err := d.Backups()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to list backups: %v", failed, err)
		}

		if len(backups) != 2 {
			t.Fatalf("\t%s\tShould retain only 2 backups, got %d", failed, len(backups))
		}
		t.Logf("\t%s\tShould retain only 2 backups.", success)
	}
}
