// Package publish implements the event publish pipeline: prove ownership
// of the action, validate the payload against the action's schema, insert
// the immutable event, and fan one outbox gist out to every live
// subscription — all under a single transaction.
package publish

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rayattack/amebo/catalog"
	"github.com/rayattack/amebo/schemata"
	"github.com/rayattack/amebo/store"
	"github.com/rayattack/amebo/vault"
)

// ErrUnknownAction is returned when the envelope names an action no
// application has registered.
var ErrUnknownAction = errors.New("publish: action can not be used to process any events")

// Envelope is an incoming event submission. Secret proves the publisher
// owns the action's application.
type Envelope struct {
	Action      string          `json:"action"`
	Secret      string          `json:"secret"`
	Deduper     string          `json:"deduper"`
	Payload     json.RawMessage `json:"payload"`
	Timestamped string          `json:"timestamped,omitempty"`
	SleepUntil  string          `json:"sleep_until,omitempty"`
}

// Receipt echoes a persisted event.
type Receipt struct {
	Event       int64           `json:"event"`
	Action      string          `json:"action"`
	Deduper     string          `json:"deduper"`
	Payload     json.RawMessage `json:"payload"`
	Timestamped string          `json:"timestamped"`
}

// Publisher runs the publish pipeline against the store.
type Publisher struct {
	store   *store.Store
	schemas *schemata.Cache
}

// New builds a Publisher over the shared schema cache.
func New(s *store.Store, schemas *schemata.Cache) *Publisher {
	return &Publisher{store: s, schemas: schemas}
}

// Publish validates and persists one event, fanning out one gist per
// subscription of the action existing now. Later subscriptions never
// receive this event. On any failure the transaction rolls back and no
// row survives.
func (p *Publisher) Publish(ctx context.Context, envelope *Envelope) (*Receipt, error) {
	if envelope.Action == "" || envelope.Deduper == "" {
		return nil, fmt.Errorf("%w: action and deduper are required", catalog.ErrInvalid)
	}
	if len(envelope.Payload) == 0 || !json.Valid(envelope.Payload) {
		return nil, fmt.Errorf("%w: payload must be a JSON document", catalog.ErrInvalid)
	}
	if envelope.SleepUntil != "" {
		var until, err = time.Parse(time.RFC3339, envelope.SleepUntil)
		if err != nil {
			return nil, fmt.Errorf("%w: sleep_until is not an RFC3339 timestamp", catalog.ErrInvalid)
		}
		// Stored timestamps are compared lexicographically; only UTC
		// renderings order correctly against the dispatcher's now.
		envelope.SleepUntil = until.UTC().Format(time.RFC3339Nano)
	}
	if envelope.Timestamped == "" {
		envelope.Timestamped = time.Now().UTC().Format(time.RFC3339Nano)
	}

	var tx, err = p.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Resolve the action to its schema and its owning application's secret.
	var x = p.store.Schema()
	var schema, secret string
	err = tx.One(ctx, fmt.Sprintf(`
		SELECT a.schemata, app.secret
		FROM %sactions a
		JOIN %sapplications app ON app.application = a.application
		WHERE a.action = %s`,
		x, x, p.store.Placeholder(1)),
		[]any{envelope.Action}, &schema, &secret)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownAction
	} else if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(envelope.Secret)) != 1 {
		return nil, vault.ErrUnauthorized
	}

	if err = p.schemas.Validate(envelope.Action, schema, envelope.Payload); err != nil {
		return nil, err
	}

	var sleepUntil any
	if envelope.SleepUntil != "" {
		sleepUntil = envelope.SleepUntil
	}

	var eventID int64
	err = tx.One(ctx, fmt.Sprintf(`
		INSERT INTO %sevents(action, deduper, payload, sleep_until, timestamped)
		VALUES(%s)
		RETURNING event`,
		x, p.store.Placeholders(1, 5)),
		[]any{envelope.Action, envelope.Deduper, string(envelope.Payload), sleepUntil, envelope.Timestamped},
		&eventID)
	if err != nil {
		return nil, err
	}

	// Fan-out: one gist per live subscription of this action.
	err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %sgists(event, subscription, completed, retries, sleep_until, timestamped)
		SELECT CAST(%s AS bigint), subscription, 0, 0, CAST(%s AS varchar), CAST(%s AS varchar)
		FROM %ssubscriptions WHERE action = %s`,
		x, p.store.Placeholder(1), p.store.Placeholder(2), p.store.Placeholder(3),
		x, p.store.Placeholder(4)),
		eventID, sleepUntil, envelope.Timestamped, envelope.Action)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &Receipt{
		Event:       eventID,
		Action:      envelope.Action,
		Deduper:     envelope.Deduper,
		Payload:     envelope.Payload,
		Timestamped: envelope.Timestamped,
	}, nil
}
