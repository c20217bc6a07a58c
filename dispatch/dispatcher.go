// Package dispatch drains the outbox. A single long-lived loop picks a
// bounded envelope of undelivered gists in publish order, POSTs each to
// its subscription handler concurrently, and reconciles completion and
// retry counters. Delivery is at-least-once with bounded retries;
// subscribers must tolerate redelivery and out-of-order arrival.
package dispatch

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rayattack/amebo/config"
	"github.com/rayattack/amebo/store"
)

// passPhraseHeader carries the owning application's secret so the
// subscriber can authenticate the broker.
const passPhraseHeader = "X-PASS-Phrase"

// Dispatcher owns the delivery loop. Exactly one Dispatcher may run
// against a store; the pick query is not a reservation, so a second
// instance would double-deliver.
type Dispatcher struct {
	store  *store.Store
	client *http.Client
	cfg    config.DispatchConfig
}

// New builds a Dispatcher paced by cfg.
func New(s *store.Store, cfg config.DispatchConfig) *Dispatcher {
	return &Dispatcher{
		store:  s,
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

// steps starts a filter builder in the store's dialect.
func (d *Dispatcher) steps() *store.Steps {
	return store.NewSteps(d.store.Engine())
}

// delivery is one picked gist, joined to everything a POST needs.
type delivery struct {
	gist     int64
	endpoint string
	payload  []byte
	secret   string
}

// Run cycles until ctx is cancelled. A panicking or failing cycle is
// logged and the loop continues; uncompleted work stays pending in the
// store and resumes on next startup.
func (d *Dispatcher) Run(ctx context.Context) {
	log.WithFields(log.Fields{
		"envelopeSize": d.cfg.EnvelopeSize,
		"restWhen":     d.cfg.RestWhen,
		"idles":        d.cfg.Idles,
	}).Info("starting dispatcher")

	for {
		var picked = d.safeCycle(ctx)

		if ctx.Err() != nil {
			log.Info("dispatcher stopped")
			return
		}
		if picked < d.cfg.RestWhen {
			select {
			case <-time.After(d.cfg.Idles):
			case <-ctx.Done():
				log.Info("dispatcher stopped")
				return
			}
		}
	}
}

// safeCycle runs one cycle, containing panics so a poisoned batch cannot
// kill the daemon.
func (d *Dispatcher) safeCycle(ctx context.Context) (picked int) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("dispatcher cycle panicked")
		}
	}()

	var err error
	if picked, err = d.Cycle(ctx); err != nil && ctx.Err() == nil {
		log.WithField("err", err).Warn("dispatcher cycle failed")
	}
	return picked
}

// Cycle performs one pick → fire → classify → reconcile pass and
// returns how many gists were picked.
func (d *Dispatcher) Cycle(ctx context.Context) (int, error) {
	var started = time.Now()
	var deliveries, err = d.pick(ctx)
	if err != nil {
		return 0, fmt.Errorf("picking gists: %w", err)
	}
	if len(deliveries) == 0 {
		return 0, nil
	}

	// Fire all deliveries of the envelope in parallel and await the group.
	var mu sync.Mutex
	var accepted, rejected []int64
	var wg sync.WaitGroup
	for _, dv := range deliveries {
		wg.Add(1)
		go func(dv delivery) {
			defer wg.Done()
			var ok = d.fire(ctx, dv)
			mu.Lock()
			if ok {
				accepted = append(accepted, dv.gist)
			} else {
				rejected = append(rejected, dv.gist)
			}
			mu.Unlock()
		}(dv)
	}
	wg.Wait()

	if err = d.reconcile(ctx, accepted, rejected); err != nil {
		return len(deliveries), fmt.Errorf("reconciling gists: %w", err)
	}

	deliveredTotal.Add(float64(len(accepted)))
	rejectedTotal.Add(float64(len(rejected)))
	cycleDuration.Observe(time.Since(started).Seconds())

	log.WithFields(log.Fields{
		"picked":   len(deliveries),
		"accepted": len(accepted),
		"rejected": len(rejected),
	}).Debug("dispatcher cycle")
	return len(deliveries), nil
}

// pick selects up to envelopeSize undelivered, non-sleeping gists whose
// retry budget is not exhausted, in ascending event (publish) order.
func (d *Dispatcher) pick(ctx context.Context) ([]delivery, error) {
	var x = d.store.Schema()
	var sqls = fmt.Sprintf(`
		SELECT g.gist, s.handler, e.payload, app.secret
		FROM %sgists g
		JOIN %sevents e        ON g.event        = e.event
		JOIN %ssubscriptions s ON g.subscription = s.subscription
		JOIN %sactions a       ON e.action       = a.action
		JOIN %sapplications app ON a.application = app.application
		WHERE g.completed <> 1
		  AND g.retries < s.max_retries
		  AND (g.sleep_until IS NULL OR g.sleep_until < %s)
		ORDER BY g.event
		LIMIT %d`,
		x, x, x, x, x, d.store.Placeholder(1), d.cfg.EnvelopeSize)

	var now = time.Now().UTC().Format(time.RFC3339Nano)
	var deliveries []delivery
	var err = d.store.Many(ctx, sqls, []any{now}, func(rows *sql.Rows) error {
		var dv delivery
		var payload string
		if err := rows.Scan(&dv.gist, &dv.endpoint, &payload, &dv.secret); err != nil {
			return err
		}
		dv.payload = []byte(payload)
		deliveries = append(deliveries, dv)
		return nil
	})
	return deliveries, err
}

// fire POSTs one delivery. Only 200 and 202 count as accepted; any
// other status, a timeout, or a transport failure is a rejection.
func (d *Dispatcher) fire(ctx context.Context, dv delivery) bool {
	var req, err = http.NewRequestWithContext(ctx, http.MethodPost, dv.endpoint, bytes.NewReader(dv.payload))
	if err != nil {
		log.WithFields(log.Fields{"gist": dv.gist, "err": err}).Warn("building delivery request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(passPhraseHeader, dv.secret)

	resp, err := d.client.Do(req)
	if err != nil {
		log.WithFields(log.Fields{"gist": dv.gist, "endpoint": dv.endpoint, "err": err}).
			Warn("delivery failed")
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted
}

// reconcile applies the cycle's outcomes in two unconditional by-id
// updates. The accepted update also increments retries so the counter
// reflects attempt count in both outcomes.
func (d *Dispatcher) reconcile(ctx context.Context, accepted, rejected []int64) error {
	var x = d.store.Schema()

	if len(rejected) != 0 {
		var sqls = fmt.Sprintf(`UPDATE %sgists SET retries = retries + 1 WHERE gist IN (%s)`,
			x, d.store.Placeholders(1, len(rejected)))
		if err := d.store.Exec(ctx, sqls, toArgs(rejected)...); err != nil {
			return err
		}
	}
	if len(accepted) != 0 {
		var sqls = fmt.Sprintf(`UPDATE %sgists SET completed = 1, retries = retries + 1 WHERE gist IN (%s)`,
			x, d.store.Placeholders(1, len(accepted)))
		if err := d.store.Exec(ctx, sqls, toArgs(accepted)...); err != nil {
			return err
		}
	}
	return nil
}

func toArgs(ids []int64) []any {
	var args = make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
