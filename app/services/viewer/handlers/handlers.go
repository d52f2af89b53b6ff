// Package handlers contains the full set of handler functions and routes
// supported by the viewer.
package handlers

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"os"

	"github.com/ardanlabs/powchain/business/web/mid"
	"github.com/ardanlabs/powchain/foundation/web"
	"go.uber.org/zap"
)

//go:embed assets/index.html
var indexHTML string

// maxEvents is the number of events kept on the page.
const maxEvents = 500

// UIMux constructs an http.Handler serving the page that streams the events
// of the node at nodeURL.
func UIMux(build string, shutdown chan os.Signal, log *zap.SugaredLogger, nodeURL string) (*web.App, error) {
	ig, err := newIndex(build, nodeURL)
	if err != nil {
		return nil, fmt.Errorf("loading index template: %w", err)
	}

	app := web.NewApp(
		shutdown,
		mid.Logger(log),
		mid.Errors(log),
		mid.Panics(),
		mid.Cors("*"),
	)

	app.Handle(http.MethodGet, "", "/", ig.handler)

	return app, nil
}

// =============================================================================

type index struct {
	page []byte
}

func newIndex(build string, nodeURL string) (index, error) {
	u, err := url.Parse(nodeURL)
	if err != nil {
		return index{}, err
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	default:
		return index{}, fmt.Errorf("unsupported node url scheme %q", u.Scheme)
	}
	u.Path = "/v1/events"

	tmpl, err := template.New("index").Parse(indexHTML)
	if err != nil {
		return index{}, err
	}

	data := struct {
		Build     string
		NodeURL   string
		EventsURL string
		MaxEvents int
	}{
		Build:     build,
		NodeURL:   nodeURL,
		EventsURL: u.String(),
		MaxEvents: maxEvents,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return index{}, err
	}

	return index{page: buf.Bytes()}, nil
}

func (ig index) handler(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(ig.page)

	return err
}
