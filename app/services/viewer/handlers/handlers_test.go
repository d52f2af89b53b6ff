package handlers_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/ardanlabs/powchain/app/services/viewer/handlers"
	"github.com/ardanlabs/powchain/foundation/logger"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Index(t *testing.T) {
	t.Log("Given the need to serve the event viewer.")
	{
		log, err := logger.New("TEST")
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the logger : %s", failed, err)
		}

		t.Logf("\tTest 0:\tWhen requesting the index page.")
		{
			app, err := handlers.UIMux("test", make(chan os.Signal, 1), log, "http://localhost:8080")
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to construct the mux : %s", failed, err)
			}

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			w := httptest.NewRecorder()
			app.ServeHTTP(w, r)

			if w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest 0:\tShould receive a 200 status, got %d.", failed, w.Code)
			}
			t.Logf("\t%s\tTest 0:\tShould receive a 200 status.", success)

			body, _ := io.ReadAll(w.Body)
			page := string(body)
			if !strings.Contains(page, `"ws:`) || !strings.Contains(page, "localhost:8080") || !strings.Contains(page, "events") {
				t.Logf("\t\tTest 0:\tgot: %s", body)
				t.Fatalf("\t%s\tTest 0:\tShould point the page at the node events.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould point the page at the node events.", success)
		}

		t.Logf("\tTest 1:\tWhen the node url has an unknown scheme.")
		{
			if _, err := handlers.UIMux("test", make(chan os.Signal, 1), log, "ftp://localhost"); err == nil {
				t.Fatalf("\t%s\tTest 1:\tShould refuse the url.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould refuse the url.", success)
		}
	}
}
