package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rayattack/amebo/store"
	"github.com/rayattack/amebo/vault"
)

// Subscription is a standing instruction to POST every future event of
// an action to a subscriber's handler. Handler is registered as a
// relative path and stored as the absolute delivery URL.
type Subscription struct {
	Subscription int64  `json:"subscription"`
	Application  string `json:"application"`
	Action       string `json:"action"`
	Handler      string `json:"handler"`
	MaxRetries   int    `json:"max_retries"`
	Description  string `json:"description,omitempty"`
	Secret       string `json:"secret,omitempty"`
	Timestamped  string `json:"timestamped"`
}

// SubscriptionFilter narrows ListSubscriptions.
type SubscriptionFilter struct {
	ID          int64
	Application string
	Action      string
	Handler     string
	Description string
	Timeline    string
	Page
}

// MaxRetriesCap bounds a subscription's retry budget.
const MaxRetriesCap = 10000

// InsertSubscription registers a subscription. The subscribing
// application must exist and its secret match; the delivery URL is the
// application's address (stripped of trailing slashes) concatenated
// with the handler path. (application, action, handler) is unique.
// The assigned id is written back into sub.
func (c *Catalog) InsertSubscription(ctx context.Context, sub *Subscription) error {
	if !strings.HasPrefix(sub.Handler, "/") {
		return fmt.Errorf("%w: handler must be a path beginning with /", ErrInvalid)
	}
	if sub.MaxRetries == 0 {
		sub.MaxRetries = 3
	}
	if sub.MaxRetries < 1 || sub.MaxRetries > MaxRetriesCap {
		return fmt.Errorf("%w: max_retries must be between 1 and %d", ErrInvalid, MaxRetriesCap)
	}

	var address string
	var err = c.store.One(ctx, fmt.Sprintf(`
		SELECT address FROM %sapplications
		WHERE application = %s AND secret = %s`,
		c.store.Schema(), c.store.Placeholder(1), c.store.Placeholder(2)),
		[]any{sub.Application, sub.Secret}, &address)
	if errors.Is(err, store.ErrNotFound) {
		return vault.ErrUnauthorized
	} else if err != nil {
		return err
	}

	// Surface an unknown action as not-found, not as the foreign key
	// violation the insert would otherwise raise.
	var owner string
	if err = c.store.One(ctx, fmt.Sprintf(`
		SELECT application FROM %sactions WHERE action = %s`,
		c.store.Schema(), c.store.Placeholder(1)),
		[]any{sub.Action}, &owner); err != nil {
		return err
	}

	sub.Handler = strings.TrimRight(address, "/") + sub.Handler
	if sub.Timestamped == "" {
		sub.Timestamped = now()
	}

	return c.store.One(ctx, fmt.Sprintf(`
		INSERT INTO %ssubscriptions(application, action, handler, max_retries, description, timestamped)
		VALUES(%s)
		RETURNING subscription`,
		c.store.Schema(), c.store.Placeholders(1, 6)),
		[]any{sub.Application, sub.Action, sub.Handler, sub.MaxRetries, sub.Description, sub.Timestamped},
		&sub.Subscription)
}

// ListSubscriptions returns subscriptions ordered by id.
func (c *Catalog) ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]Subscription, error) {
	var steps = c.steps()
	if f.ID != 0 {
		steps.Equals("subscription", f.ID)
	}
	steps.
		Like("application", f.Application).
		Like("action", f.Action).
		Like("handler", f.Handler).
		Like("description", f.Description).
		Timeline("timestamped", f.Timeline)
	var limit, offset = c.limits(f.Page)

	var sqls = fmt.Sprintf(`
		SELECT subscription, application, action, handler, max_retries, description, timestamped
		FROM %ssubscriptions
		%s
		ORDER BY subscription
		LIMIT %d OFFSET %d`,
		c.store.Schema(), steps.Clause(), limit, offset)

	var out = []Subscription{}
	var err = c.store.Many(ctx, sqls, steps.Values(), func(rows *sql.Rows) error {
		var sub Subscription
		if err := rows.Scan(&sub.Subscription, &sub.Application, &sub.Action,
			&sub.Handler, &sub.MaxRetries, &sub.Description, &sub.Timestamped); err != nil {
			return err
		}
		out = append(out, sub)
		return nil
	})
	return out, err
}
