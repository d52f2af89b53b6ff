package validate_test

import (
	"testing"

	"github.com/ardanlabs/powchain/foundation/validate"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

type submit struct {
	From   string `json:"sender" validate:"required"`
	Amount int64  `json:"amount" validate:"gt=0"`
	Fee    int64  `json:"fee" validate:"gte=0"`
}

func Test_Check(t *testing.T) {
	t.Log("Given the need to validate request models.")
	{
		t.Logf("\tTest 0:\tWhen the model is valid.")
		{
			if err := validate.Check(submit{From: "alice", Amount: 1}); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the model : %s", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould accept the model.", success)
		}

		t.Logf("\tTest 1:\tWhen fields are missing or out of range.")
		{
			err := validate.Check(submit{Fee: -1})

			fields := validate.GetFieldErrors(err).Fields()
			if len(fields) != 3 {
				t.Fatalf("\t%s\tTest 1:\tShould report every field : got %v", failed, fields)
			}
			t.Logf("\t%s\tTest 1:\tShould report every field.", success)

			if _, exists := fields["sender"]; !exists {
				t.Fatalf("\t%s\tTest 1:\tShould use the json field names : got %v", failed, fields)
			}
			t.Logf("\t%s\tTest 1:\tShould use the json field names.", success)
		}
	}
}
