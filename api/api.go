// Package api is the broker's HTTP surface: request binding, JSON
// serialization, pagination parsing, and the single translation point
// from component error kinds to status codes.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/rayattack/amebo/catalog"
	"github.com/rayattack/amebo/config"
	"github.com/rayattack/amebo/dispatch"
	"github.com/rayattack/amebo/publish"
	"github.com/rayattack/amebo/schemata"
	"github.com/rayattack/amebo/store"
	"github.com/rayattack/amebo/vault"
)

// errWrongContentType rejects non-JSON bodies on mutating routes.
var errWrongContentType = errors.New("api: your request does not know json kung-fu")

// authCookie is the session cookie set by POST /v1/tokens.
const authCookie = "Authentication"

// Server binds the broker's components to routes. It holds no state of
// its own beyond references constructed at startup.
type Server struct {
	cfg        *config.Config
	catalog    *catalog.Catalog
	vault      *vault.Vault
	publisher  *publish.Publisher
	dispatcher *dispatch.Dispatcher
}

// New assembles the routing table.
func New(cfg *config.Config, c *catalog.Catalog, v *vault.Vault, p *publish.Publisher, d *dispatch.Dispatcher) *Server {
	return &Server{cfg: cfg, catalog: c, vault: v, publisher: p, dispatcher: d}
}

// Router compiles the explicit (method, pattern, handler) table.
func (s *Server) Router() *mux.Router {
	var r = mux.NewRouter()

	r.HandleFunc("/v1/tokens", s.authenticate).Methods(http.MethodPost)

	r.HandleFunc("/v1/applications", s.listApplications).Methods(http.MethodGet)
	r.HandleFunc("/v1/applications", s.insertApplication).Methods(http.MethodPost)
	r.HandleFunc("/v1/applications/{id}", s.updateApplication).Methods(http.MethodPut)

	r.HandleFunc("/v1/actions", s.listActions).Methods(http.MethodGet)
	r.HandleFunc("/v1/actions", s.insertAction).Methods(http.MethodPost)

	r.HandleFunc("/v1/events", s.listEvents).Methods(http.MethodGet)
	r.HandleFunc("/v1/events", s.publishEvent).Methods(http.MethodPost)

	r.HandleFunc("/v1/subscriptions", s.listSubscriptions).Methods(http.MethodGet)
	r.HandleFunc("/v1/subscriptions", s.insertSubscription).Methods(http.MethodPost)

	r.HandleFunc("/v1/gists", s.protected(s.listGists)).Methods(http.MethodGet)
	r.HandleFunc("/v1/regists/{id}", s.replayGist).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// respond writes v as JSON with the given status.
func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("err", err).Warn("encoding response")
	}
}

// oops translates an error kind to its status and writes the body.
func oops(w http.ResponseWriter, err error) {
	respond(w, translate(err), map[string]string{"error": err.Error()})
}

// translate maps component error kinds to HTTP statuses.
func translate(err error) int {
	var violation *schemata.ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, publish.ErrUnknownAction):
		return http.StatusUnprocessableEntity
	case errors.As(err, &violation):
		return http.StatusNotAcceptable
	case errors.Is(err, catalog.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, errWrongContentType):
		return http.StatusTeapot
	case errors.Is(err, dispatch.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrStore):
		return http.StatusUpgradeRequired
	default:
		return http.StatusInternalServerError
	}
}

// bind decodes a JSON request body into v. Mutating routes must send
// application/json.
func bind(r *http.Request, v any) error {
	var ctype, _, _ = mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ctype != "application/json" {
		return errWrongContentType
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %s", catalog.ErrInvalid, err)
	}
	return nil
}

// protected requires a valid bearer token, from the Authentication
// cookie or an Authorization: Bearer header.
func (s *Server) protected(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var token string
		if cookie, err := r.Cookie(authCookie); err == nil {
			token = cookie.Value
		} else if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
		if token == "" {
			oops(w, vault.ErrUnauthorized)
			return
		}
		if _, err := s.vault.Untokenize(token); err != nil {
			oops(w, err)
			return
		}
		next(w, r)
	}
}

// page parses the shared page/pagination query parameters. Non-numeric
// or non-positive values fall back to defaults.
func page(r *http.Request) catalog.Page {
	var p catalog.Page
	if n, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && n > 0 {
		p.Page = n
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("pagination")); err == nil && n > 0 {
		p.Pagination = n
	}
	return p
}

// intQuery parses an optional integer query parameter, 0 when absent.
func intQuery(r *http.Request, name string) int64 {
	var n, _ = strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return n
}
