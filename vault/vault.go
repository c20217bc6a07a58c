// Package vault authenticates administrators and applications and mints
// the bearer tokens used by the broker's protected routes.
//
// Administrators ("basic" scheme) verify against an argon2id hash kept in
// the credentials table; applications ("token" scheme) verify their shared
// secret verbatim with a constant-time comparison. Startup upserts the
// administrator credentials from the environment, which deliberately
// overwrites any password changed at runtime.
package vault

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/rayattack/amebo/store"
)

// ErrUnauthorized is returned for any failed authentication. No detail
// distinguishes an unknown principal from a bad password.
var ErrUnauthorized = errors.New("vault: unauthorized")

// Vault verifies credentials against the store and signs tokens with a
// process-wide secret, immutable after startup.
type Vault struct {
	store  *store.Store
	secret []byte
}

// New builds a Vault. An empty secret falls back to a deterministic
// per-host development value; set AMEBO_SECRET in production.
func New(s *store.Store, secret string) *Vault {
	if secret == "" {
		secret = hostSecret()
		log.Warn("AMEBO_SECRET not set; deriving a development signing secret from host identity")
	}
	return &Vault{store: s, secret: []byte(secret)}
}

// hostSecret derives a stable development signing secret from the host's
// first hardware address, so restarts keep tokens valid.
func hostSecret() string {
	var node []byte
	if interfaces, err := net.Interfaces(); err == nil {
		for _, iface := range interfaces {
			if len(iface.HardwareAddr) != 0 {
				node = iface.HardwareAddr
				break
			}
		}
	}
	if node == nil {
		var hostname, _ = os.Hostname()
		node = []byte(hostname)
	}
	return uuid.NewSHA1(uuid.Nil, node).String()
}

// Authenticate verifies a credential and mints a signed bearer token.
// Scheme "basic" names an administrator; scheme "token" names an
// application whose password is its shared secret.
func (v *Vault) Authenticate(ctx context.Context, scheme, username, password string) (string, error) {
	switch scheme {
	case "basic":
		var hash string
		if err := v.store.One(ctx,
			fmt.Sprintf(`SELECT password FROM %scredentials WHERE username = %s`,
				v.store.Schema(), v.store.Placeholder(1)),
			[]any{username}, &hash); err != nil {
			return "", ErrUnauthorized
		}
		if !VerifyPassword(hash, password) {
			return "", ErrUnauthorized
		}
	case "token":
		var secret string
		if err := v.store.One(ctx,
			fmt.Sprintf(`SELECT secret FROM %sapplications WHERE application = %s`,
				v.store.Schema(), v.store.Placeholder(1)),
			[]any{username}, &secret); err != nil {
			return "", ErrUnauthorized
		}
		if subtle.ConstantTimeCompare([]byte(secret), []byte(password)) != 1 {
			return "", ErrUnauthorized
		}
	default:
		return "", ErrUnauthorized
	}

	return v.Tokenize(scheme, username)
}

// VerifySecret checks an application's shared secret in constant time.
func (v *Vault) VerifySecret(ctx context.Context, application, secret string) error {
	var stored string
	if err := v.store.One(ctx,
		fmt.Sprintf(`SELECT secret FROM %sapplications WHERE application = %s`,
			v.store.Schema(), v.store.Placeholder(1)),
		[]any{application}, &stored); err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Bootstrap upserts the administrator credentials. Called once at startup.
func (v *Vault) Bootstrap(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		log.Warn("administrator credentials not configured; skipping bootstrap")
		return nil
	}

	var hash, err = HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing administrator password: %w", err)
	}
	return v.store.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %scredentials(username, password) VALUES(%s)
		ON CONFLICT(username) DO UPDATE SET password = excluded.password`,
		v.store.Schema(), v.store.Placeholders(1, 2)),
		username, hash)
}
