package publish

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rayattack/amebo/catalog"
	"github.com/rayattack/amebo/store"
)

// EventFilter narrows ListEvents.
type EventFilter struct {
	ID       int64
	Action   string
	Deduper  string
	Payload  string
	Timeline string
	catalog.Page
}

// Event is a persisted occurrence of an action.
type Event struct {
	Event       int64           `json:"event"`
	Action      string          `json:"action"`
	Deduper     string          `json:"deduper"`
	Payload     json.RawMessage `json:"payload"`
	SleepUntil  string          `json:"sleep_until,omitempty"`
	Timestamped string          `json:"timestamped"`
}

// ListEvents returns events in insertion (dispatch) order.
func (p *Publisher) ListEvents(ctx context.Context, f EventFilter, maxPagination int) ([]Event, error) {
	var steps = store.NewSteps(p.store.Engine())
	if f.ID != 0 {
		steps.Equals("event", f.ID)
	}
	steps.
		Like("action", f.Action).
		Equals("deduper", f.Deduper).
		Like("payload", f.Payload).
		Timeline("timestamped", f.Timeline)

	var page = f.Page
	if page.Page < 1 {
		page.Page = 1
	}
	if page.Pagination < 1 {
		page.Pagination = catalog.DefaultPagination
	}
	if page.Pagination > maxPagination {
		page.Pagination = maxPagination
	}

	var sqls = fmt.Sprintf(`
		SELECT event, action, deduper, payload, sleep_until, timestamped
		FROM %sevents
		%s
		ORDER BY event
		LIMIT %d OFFSET %d`,
		p.store.Schema(), steps.Clause(), page.Pagination, (page.Page-1)*page.Pagination)

	var out = []Event{}
	var err = p.store.Many(ctx, sqls, steps.Values(), func(rows *sql.Rows) error {
		var event Event
		var payload string
		var sleepUntil sql.NullString
		if err := rows.Scan(&event.Event, &event.Action, &event.Deduper,
			&payload, &sleepUntil, &event.Timestamped); err != nil {
			return err
		}
		event.Payload = json.RawMessage(payload)
		event.SleepUntil = sleepUntil.String
		out = append(out, event)
		return nil
	})
	return out, err
}
