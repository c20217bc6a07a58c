package dispatch

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrUpstream is returned when a replay's POST fails at the transport
// layer (connection refused, timeout).
var ErrUpstream = errors.New("dispatch: upstream transport failure")

// Replayed reports the outcome of a manual redelivery. Proxied is the
// subscriber's response body when it parsed as JSON.
type Replayed struct {
	Gist     int64           `json:"gist"`
	Proxied  json.RawMessage `json:"proxied"`
	Accepted bool            `json:"-"`
}

// Replay synchronously redelivers a single gist by id, regardless of
// its completed, retry, or sleep state. It is diagnostic only: the
// gist's persisted counters are never touched.
func (d *Dispatcher) Replay(ctx context.Context, gist int64) (*Replayed, error) {
	var x = d.store.Schema()
	var dv = delivery{gist: gist}
	var payload string
	var err = d.store.One(ctx, fmt.Sprintf(`
		SELECT s.handler, e.payload, app.secret
		FROM %sgists g
		JOIN %sevents e        ON g.event        = e.event
		JOIN %ssubscriptions s ON g.subscription = s.subscription
		JOIN %sactions a       ON e.action       = a.action
		JOIN %sapplications app ON a.application = app.application
		WHERE g.gist = %s`,
		x, x, x, x, x, d.store.Placeholder(1)),
		[]any{gist}, &dv.endpoint, &payload, &dv.secret)
	if err != nil {
		return nil, err
	}

	var req *http.Request
	if req, err = http.NewRequestWithContext(ctx, http.MethodPost, dv.endpoint, bytes.NewReader([]byte(payload))); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(passPhraseHeader, dv.secret)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, err)
	}
	defer resp.Body.Close()

	var replayed = Replayed{
		Gist:     gist,
		Accepted: resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted,
	}
	if body, err := io.ReadAll(resp.Body); err == nil && json.Valid(body) {
		replayed.Proxied = json.RawMessage(body)
	}
	return &replayed, nil
}

// GistFilter narrows ListGists.
type GistFilter struct {
	Gist        int64
	Event       int64
	Action      string
	Origin      string
	Destination string
	Completed   string // "all", "true", or "false"
	Timeline    string
	Page        int
	Pagination  int
}

// Gist is an outbox row joined with its event and endpoints for
// inspection.
type Gist struct {
	Gist        int64  `json:"gist"`
	Event       int64  `json:"event"`
	Action      string `json:"action"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Completed   bool   `json:"completed"`
	Retries     int    `json:"retries"`
	SleepUntil  string `json:"sleep_until,omitempty"`
	Timestamped string `json:"timestamped"`
}

// ListGists returns outbox rows with join metadata, ordered by id.
func (d *Dispatcher) ListGists(ctx context.Context, f GistFilter, maxPagination int) ([]Gist, error) {
	var steps = d.steps()
	if f.Gist != 0 {
		steps.Equals("g.gist", f.Gist)
	}
	if f.Event != 0 {
		steps.Equals("g.event", f.Event)
	}
	switch f.Completed {
	case "true":
		steps.Equals("g.completed", 1)
	case "false":
		steps.Equals("g.completed", 0)
	}
	steps.
		Like("e.action", f.Action).
		Like("a.application", f.Origin).
		Like("s.application", f.Destination).
		Timeline("g.timestamped", f.Timeline)

	if f.Page < 1 {
		f.Page = 1
	}
	if f.Pagination < 1 {
		f.Pagination = 25
	}
	if f.Pagination > maxPagination {
		f.Pagination = maxPagination
	}

	var x = d.store.Schema()
	var sqls = fmt.Sprintf(`
		SELECT g.gist, g.event, e.action, a.application AS origin, s.application AS destination,
		       g.completed, g.retries, g.sleep_until, g.timestamped
		FROM %sgists g
		JOIN %sevents e        ON g.event        = e.event
		JOIN %ssubscriptions s ON g.subscription = s.subscription
		JOIN %sactions a       ON e.action       = a.action
		%s
		ORDER BY g.gist
		LIMIT %d OFFSET %d`,
		x, x, x, x, steps.Clause(), f.Pagination, (f.Page-1)*f.Pagination)

	var out = []Gist{}
	var err = d.store.Many(ctx, sqls, steps.Values(), func(rows *sql.Rows) error {
		var gist Gist
		var completed int
		var sleepUntil sql.NullString
		if err := rows.Scan(&gist.Gist, &gist.Event, &gist.Action, &gist.Origin, &gist.Destination,
			&completed, &gist.Retries, &sleepUntil, &gist.Timestamped); err != nil {
			return err
		}
		gist.Completed = completed != 0
		gist.SleepUntil = sleepUntil.String
		out = append(out, gist)
		return nil
	})
	return out, err
}
