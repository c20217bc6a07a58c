package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/rayattack/amebo/catalog"
	"github.com/rayattack/amebo/dispatch"
	"github.com/rayattack/amebo/publish"
)

// credential is the body of POST /v1/tokens.
type credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Scheme   string `json:"scheme"`
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) {
	var cred credential
	if err := bind(r, &cred); err != nil {
		oops(w, err)
		return
	}

	var token, err = s.vault.Authenticate(r.Context(), cred.Scheme, cred.Username, cred.Password)
	if err != nil {
		oops(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	respond(w, http.StatusAccepted, map[string]string{"token": token})
}

func (s *Server) listApplications(w http.ResponseWriter, r *http.Request) {
	var q = r.URL.Query()
	var apps, err = s.catalog.ListApplications(r.Context(), catalog.ApplicationFilter{
		Application: q.Get("application"),
		Address:     q.Get("address"),
		Timeline:    q.Get("timeline"),
		Page:        page(r),
	})
	if err != nil {
		oops(w, err)
		return
	}
	respond(w, http.StatusOK, apps)
}

func (s *Server) insertApplication(w http.ResponseWriter, r *http.Request) {
	var app catalog.Application
	if err := bind(r, &app); err != nil {
		oops(w, err)
		return
	}
	if err := s.catalog.InsertApplication(r.Context(), &app); err != nil {
		oops(w, err)
		return
	}
	respond(w, http.StatusCreated, app)
}

// location is the body of PUT /v1/applications/{id}.
type location struct {
	Address string `json:"address"`
	Secret  string `json:"secret"`
}

func (s *Server) updateApplication(w http.ResponseWriter, r *http.Request) {
	var loc location
	if err := bind(r, &loc); err != nil {
		oops(w, err)
		return
	}
	// No feedback on secret mismatch; 202 indicates only that the
	// request was understood.
	if err := s.catalog.UpdateAddress(r.Context(), mux.Vars(r)["id"], loc.Address, loc.Secret); err != nil {
		oops(w, err)
		return
	}
	respond(w, http.StatusAccepted, nil)
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	var q = r.URL.Query()
	var actions, err = s.catalog.ListActions(r.Context(), catalog.ActionFilter{
		Action:      q.Get("action"),
		Application: q.Get("application"),
		Schemata:    q.Get("schemata"),
		Timeline:    q.Get("timeline"),
		Page:        page(r),
	})
	if err != nil {
		oops(w, err)
		return
	}
	respond(w, http.StatusOK, actions)
}

func (s *Server) insertAction(w http.ResponseWriter, r *http.Request) {
	var action catalog.Action
	if err := bind(r, &action); err != nil {
		oops(w, err)
		return
	}
	if err := s.catalog.InsertAction(r.Context(), &action); err != nil {
		oops(w, err)
		return
	}
	action.Secret = ""
	respond(w, http.StatusCreated, action)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	var q = r.URL.Query()
	var events, err = s.publisher.ListEvents(r.Context(), publish.EventFilter{
		ID:       intQuery(r, "id"),
		Action:   q.Get("action"),
		Deduper:  q.Get("deduper"),
		Payload:  q.Get("payload"),
		Timeline: q.Get("timeline"),
		Page:     page(r),
	}, s.cfg.Serve.MaxPagination)
	if err != nil {
		oops(w, err)
		return
	}
	respond(w, http.StatusOK, events)
}

func (s *Server) publishEvent(w http.ResponseWriter, r *http.Request) {
	var envelope publish.Envelope
	if err := bind(r, &envelope); err != nil {
		oops(w, err)
		return
	}
	var receipt, err = s.publisher.Publish(r.Context(), &envelope)
	if err != nil {
		oops(w, err)
		return
	}
	respond(w, http.StatusCreated, receipt)
}

func (s *Server) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	var q = r.URL.Query()
	var subs, err = s.catalog.ListSubscriptions(r.Context(), catalog.SubscriptionFilter{
		ID:          intQuery(r, "id"),
		Application: q.Get("application"),
		Action:      q.Get("action"),
		Handler:     q.Get("handler"),
		Description: q.Get("description"),
		Timeline:    q.Get("timeline"),
		Page:        page(r),
	})
	if err != nil {
		oops(w, err)
		return
	}
	respond(w, http.StatusOK, subs)
}

func (s *Server) insertSubscription(w http.ResponseWriter, r *http.Request) {
	var sub catalog.Subscription
	if err := bind(r, &sub); err != nil {
		oops(w, err)
		return
	}
	if err := s.catalog.InsertSubscription(r.Context(), &sub); err != nil {
		oops(w, err)
		return
	}
	sub.Secret = ""
	respond(w, http.StatusCreated, sub)
}

func (s *Server) listGists(w http.ResponseWriter, r *http.Request) {
	var q = r.URL.Query()
	var p = page(r)
	var gists, err = s.dispatcher.ListGists(r.Context(), dispatch.GistFilter{
		Gist:        intQuery(r, "gist"),
		Event:       intQuery(r, "event"),
		Action:      q.Get("action"),
		Origin:      q.Get("origin"),
		Destination: q.Get("destination"),
		Completed:   q.Get("completed"),
		Timeline:    q.Get("timeline"),
		Page:        p.Page,
		Pagination:  p.Pagination,
	}, s.cfg.Serve.MaxPagination)
	if err != nil {
		oops(w, err)
		return
	}
	respond(w, http.StatusOK, gists)
}

func (s *Server) replayGist(w http.ResponseWriter, r *http.Request) {
	var id, err = strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		oops(w, fmt.Errorf("%w: gist id must be an integer", catalog.ErrInvalid))
		return
	}

	replayed, err := s.dispatcher.Replay(r.Context(), id)
	if err != nil {
		oops(w, err)
		return
	}
	if !replayed.Accepted {
		log.WithField("gist", id).Warn("replay rejected by subscriber")
		respond(w, http.StatusServiceUnavailable, map[string]any{
			"gist":    replayed.Gist,
			"proxied": replayed.Proxied,
			"error":   "endpoint maybe offline, failed to handle gist",
		})
		return
	}
	respond(w, http.StatusAccepted, replayed)
}
