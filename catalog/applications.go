package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"
)

// Redacted replaces application secrets in listings.
const Redacted = "****************"

// Application is a producer or subscriber service registered with the
// broker.
type Application struct {
	Application string `json:"application"`
	Address     string `json:"address"`
	Secret      string `json:"secret,omitempty"`
	Timestamped string `json:"timestamped"`
}

// ApplicationFilter narrows ListApplications.
type ApplicationFilter struct {
	Application string
	Address     string
	Timeline    string
	Page
}

// InsertApplication registers an application. The name must be
// alphanumeric without whitespace; the address an absolute http(s) URL;
// the secret at least 16 bytes. A duplicate name is a conflict.
func (c *Catalog) InsertApplication(ctx context.Context, app *Application) error {
	if app.Application == "" {
		return fmt.Errorf("%w: application name is required", ErrInvalid)
	}
	for _, r := range app.Application {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return fmt.Errorf("%w: application name can only contain letters and numbers", ErrInvalid)
		}
	}
	if err := absoluteHTTP(app.Address); err != nil {
		return err
	}
	if len(app.Secret) < 16 {
		return fmt.Errorf("%w: secret must be at least 16 characters", ErrInvalid)
	}
	if app.Timestamped == "" {
		app.Timestamped = now()
	}

	return c.store.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %sapplications(application, address, secret, timestamped)
		VALUES(%s)`,
		c.store.Schema(), c.store.Placeholders(1, 4)),
		app.Application, app.Address, app.Secret, app.Timestamped)
}

// ListApplications returns applications with secrets redacted, ordered
// by name.
func (c *Catalog) ListApplications(ctx context.Context, f ApplicationFilter) ([]Application, error) {
	var steps = c.steps().
		Like("application", f.Application).
		Like("address", f.Address).
		Timeline("timestamped", f.Timeline)
	var limit, offset = c.limits(f.Page)

	var sqls = fmt.Sprintf(`
		SELECT application, address, timestamped
		FROM %sapplications
		%s
		ORDER BY application
		LIMIT %d OFFSET %d`,
		c.store.Schema(), steps.Clause(), limit, offset)

	var out = []Application{}
	var err = c.store.Many(ctx, sqls, steps.Values(), func(rows *sql.Rows) error {
		var app = Application{Secret: Redacted}
		if err := rows.Scan(&app.Application, &app.Address, &app.Timestamped); err != nil {
			return err
		}
		out = append(out, app)
		return nil
	})
	return out, err
}

// UpdateAddress points an application at a new base address, gated on
// its secret. No feedback is given when the secret mismatches; the
// update simply does not apply.
func (c *Catalog) UpdateAddress(ctx context.Context, application, address, secret string) error {
	if err := absoluteHTTP(address); err != nil {
		return err
	}
	return c.store.Exec(ctx, fmt.Sprintf(`
		UPDATE %sapplications SET address = %s
		WHERE application = %s AND secret = %s`,
		c.store.Schema(), c.store.Placeholder(1), c.store.Placeholder(2), c.store.Placeholder(3)),
		strings.TrimRight(address, "/"), application, secret)
}
