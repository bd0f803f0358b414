// Package httpapi serves operator endpoints for the bridge and light nodes. Handlers
// never touch node state directly; they run on the node loop through a Runner.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ystepanoff/tallycomm/bridge"
	"github.com/ystepanoff/tallycomm/indicator"
	pkglog "github.com/ystepanoff/tallycomm/internal/log"
	"github.com/ystepanoff/tallycomm/protocol"
)

// Runner executes fn on the node loop. *loop.Loop implements it.
type Runner interface {
	Do(ctx context.Context, fn func(now time.Time)) error
}

const commandTimeout = 2 * time.Second

func newRouter(gatherer prometheus.Gatherer) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(pkglog.HTTPMiddleware(pkglog.Component("http")))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		success(w, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func run(w http.ResponseWriter, r *http.Request, runner Runner, fn func(now time.Time)) bool {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	if err := runner.Do(ctx, fn); err != nil {
		unavailable(w, "node loop busy: "+err.Error())
		return false
	}
	return true
}

// BridgeOptions adds optional routes to the bridge router.
type BridgeOptions struct {
	Gatherer prometheus.Gatherer
	// Link and Advert are mounted at /link and /advert when set.
	Link   http.Handler
	Advert http.Handler
}

func NewBridgeRouter(b *bridge.Bridge, runner Runner, opts BridgeOptions) http.Handler {
	r := newRouter(opts.Gatherer)
	if opts.Link != nil {
		r.Handle("/link", opts.Link)
	}
	if opts.Advert != nil {
		r.Handle("/advert", opts.Advert)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			var st bridge.Status
			if run(w, req, runner, func(now time.Time) { st = b.Status(now) }) {
				success(w, st)
			}
		})

		r.Post("/cameras/{id}/override", func(w http.ResponseWriter, req *http.Request) {
			id, err := strconv.ParseUint(chi.URLParam(req, "id"), 10, 8)
			if err != nil {
				badRequest(w, "invalid camera id")
				return
			}
			var body struct {
				State protocol.DisplayState `json:"state"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				badRequest(w, err.Error())
				return
			}

			var delivered int
			var opErr error
			if !run(w, req, runner, func(now time.Time) {
				delivered, opErr = b.Override(now, uint8(id), body.State)
			}) {
				return
			}
			if opErr != nil {
				badRequest(w, opErr.Error())
				return
			}
			success(w, map[string]int{"delivered": delivered})
		})

		r.Put("/standby", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Enabled *bool `json:"enabled"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Enabled == nil {
				badRequest(w, `expected {"enabled": bool}`)
				return
			}
			if run(w, req, runner, func(time.Time) { b.SetStandbyAsPreview(*body.Enabled) }) {
				success(w, map[string]bool{"standby_as_preview": *body.Enabled})
			}
		})
	})
	return r
}

func NewLightRouter(m *indicator.Machine, runner Runner, gatherer prometheus.Gatherer) http.Handler {
	r := newRouter(gatherer)

	command := func(op func(m *indicator.Machine, now time.Time) error) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			var opErr error
			var st indicator.Status
			if !run(w, req, runner, func(now time.Time) {
				opErr = op(m, now)
				st = m.Status(now)
			}) {
				return
			}
			switch {
			case errors.Is(opErr, protocol.ErrNotConnected), errors.Is(opErr, indicator.ErrBusy):
				conflict(w, opErr.Error())
			case opErr != nil:
				fail(w, http.StatusInternalServerError, "INTERNAL", opErr.Error())
			default:
				success(w, st)
			}
		}
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			var st indicator.Status
			if run(w, req, runner, func(now time.Time) { st = m.Status(now) }) {
				success(w, st)
			}
		})
		r.Post("/connect", command((*indicator.Machine).Connect))
		r.Post("/disconnect", command((*indicator.Machine).Disconnect))
		r.Post("/register", command((*indicator.Machine).Register))
		r.Post("/test", command((*indicator.Machine).Test))
	})
	return r
}
