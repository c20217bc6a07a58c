package store

import (
	"context"
	"fmt"
	"strings"
)

// ddl is the idempotent schema of the broker, written against the
// embedded engine. The networked variant qualifies tables with the amebo
// namespace and swaps rowid-backed keys for bigserial.
const ddl = `
CREATE TABLE IF NOT EXISTS %[1]sapplications (
    application varchar(128) PRIMARY KEY,
    address varchar(512) NOT NULL,
    secret text NOT NULL,
    timestamped varchar(64) NOT NULL
);

CREATE TABLE IF NOT EXISTS %[1]sactions (
    action varchar(128) PRIMARY KEY,
    application varchar(128) NOT NULL REFERENCES %[1]sapplications(application),
    schemata text NOT NULL,
    timestamped varchar(64) NOT NULL
);

CREATE TABLE IF NOT EXISTS %[1]sevents (
    event %[2]s,
    action varchar(128) NOT NULL REFERENCES %[1]sactions(action),
    deduper varchar(128) NOT NULL,
    payload text NOT NULL,
    sleep_until varchar(64),
    timestamped varchar(64) NOT NULL,

    UNIQUE(deduper, payload)
);

CREATE TABLE IF NOT EXISTS %[1]ssubscriptions (
    subscription %[2]s,
    application varchar(128) NOT NULL REFERENCES %[1]sapplications(application),
    action varchar(128) NOT NULL REFERENCES %[1]sactions(action),
    handler varchar(512) NOT NULL,
    max_retries integer NOT NULL DEFAULT 3,
    description text NOT NULL DEFAULT '',
    timestamped varchar(64) NOT NULL,

    UNIQUE(application, action, handler)
);

CREATE TABLE IF NOT EXISTS %[1]sgists (
    gist %[2]s,
    event bigint NOT NULL REFERENCES %[1]sevents(event),
    subscription bigint NOT NULL REFERENCES %[1]ssubscriptions(subscription),
    completed integer NOT NULL DEFAULT 0,
    retries integer NOT NULL DEFAULT 0,
    sleep_until varchar(64),
    timestamped varchar(64) NOT NULL,

    UNIQUE(event, subscription)
);

CREATE TABLE IF NOT EXISTS %[1]scredentials (
    username varchar(128) PRIMARY KEY,
    password text NOT NULL
);
`

// Initialize creates the broker schema if it does not exist. It runs at
// every startup; all statements are idempotent.
func (s *Store) Initialize(ctx context.Context) error {
	var script string
	if s.engine == Networked {
		script = "CREATE SCHEMA IF NOT EXISTS amebo;\n" + fmt.Sprintf(ddl, namespace, "bigserial PRIMARY KEY")
	} else {
		script = fmt.Sprintf(ddl, "", "integer PRIMARY KEY AUTOINCREMENT")
	}

	for _, stmt := range strings.Split(script, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := s.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
	}
	return nil
}
