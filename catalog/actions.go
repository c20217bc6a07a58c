package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rayattack/amebo/store"
	"github.com/rayattack/amebo/vault"
)

// Action is a named event kind owned by an application, carrying the
// JSON-Schema contract its payloads must satisfy.
type Action struct {
	Action      string          `json:"action"`
	Application string          `json:"application"`
	Schemata    json.RawMessage `json:"schemata"`
	Secret      string          `json:"secret,omitempty"`
	Timestamped string          `json:"timestamped"`
}

// ActionFilter narrows ListActions.
type ActionFilter struct {
	Action      string
	Application string
	Schemata    string
	Timeline    string
	Page
}

// InsertAction registers an action. The caller proves ownership of the
// named application with its secret; a mismatch (or a missing
// application) is unauthorized. A duplicate action name is a conflict.
func (c *Catalog) InsertAction(ctx context.Context, action *Action) error {
	if len(action.Action) < 3 {
		return fmt.Errorf("%w: action name must be at least 3 characters", ErrInvalid)
	}
	if len(action.Schemata) == 0 || !json.Valid(action.Schemata) {
		return fmt.Errorf("%w: schemata must be a JSON document", ErrInvalid)
	}

	if err := c.vault.VerifySecret(ctx, action.Application, action.Secret); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return vault.ErrUnauthorized
		}
		return err
	}

	if action.Timestamped == "" {
		action.Timestamped = now()
	}
	return c.store.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %sactions(action, application, schemata, timestamped)
		VALUES(%s)`,
		c.store.Schema(), c.store.Placeholders(1, 4)),
		action.Action, action.Application, string(action.Schemata), action.Timestamped)
}

// ListActions returns actions ordered by name.
func (c *Catalog) ListActions(ctx context.Context, f ActionFilter) ([]Action, error) {
	var steps = c.steps().
		Like("action", f.Action).
		Like("application", f.Application).
		Like("schemata", f.Schemata).
		Timeline("timestamped", f.Timeline)
	var limit, offset = c.limits(f.Page)

	var sqls = fmt.Sprintf(`
		SELECT action, application, schemata, timestamped
		FROM %sactions
		%s
		ORDER BY action
		LIMIT %d OFFSET %d`,
		c.store.Schema(), steps.Clause(), limit, offset)

	var out = []Action{}
	var err = c.store.Many(ctx, sqls, steps.Values(), func(rows *sql.Rows) error {
		var action Action
		var schemata string
		if err := rows.Scan(&action.Action, &action.Application, &schemata, &action.Timestamped); err != nil {
			return err
		}
		action.Schemata = json.RawMessage(schemata)
		out = append(out, action)
		return nil
	})
	return out, err
}
