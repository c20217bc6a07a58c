package vault

import (
	"context"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/rayattack/amebo/store"
)

func testVault(t *testing.T) (*Vault, *store.Store) {
	t.Helper()
	var s, err = store.Open(store.Embedded, t.TempDir()+"/amebo.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Initialize(context.Background()))
	return New(s, "test-signing-secret"), s
}

func TestHashAndVerifyPassword(t *testing.T) {
	var hash, err = HashPassword("hunter2hunter2hunter2")
	require.NoError(t, err)
	require.True(t, VerifyPassword(hash, "hunter2hunter2hunter2"))
	require.False(t, VerifyPassword(hash, "hunter3hunter3hunter3"))
	require.False(t, VerifyPassword("not-an-encoded-hash", "hunter2"))
}

func TestHashesAreSalted(t *testing.T) {
	h1, err := HashPassword("same-password")
	require.NoError(t, err)
	h2, err := HashPassword("same-password")
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestBootstrapAndBasicAuthentication(t *testing.T) {
	var v, _ = testVault(t)
	var ctx = context.Background()

	require.NoError(t, v.Bootstrap(ctx, "administrator", "open-sesame"))

	token, err := v.Authenticate(ctx, "basic", "administrator", "open-sesame")
	require.NoError(t, err)

	claims, err := v.Untokenize(token)
	require.NoError(t, err)
	require.Equal(t, "basic", claims.Scheme)
	require.Equal(t, "administrator", claims.Username)
	require.NotNil(t, claims.IssuedAt)

	_, err = v.Authenticate(ctx, "basic", "administrator", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestBootstrapOverwritesPassword(t *testing.T) {
	var v, _ = testVault(t)
	var ctx = context.Background()

	require.NoError(t, v.Bootstrap(ctx, "administrator", "first"))
	require.NoError(t, v.Bootstrap(ctx, "administrator", "second"))

	_, err := v.Authenticate(ctx, "basic", "administrator", "first")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = v.Authenticate(ctx, "basic", "administrator", "second")
	require.NoError(t, err)
}

func TestTokenAuthentication(t *testing.T) {
	var v, s = testVault(t)
	var ctx = context.Background()

	require.NoError(t, s.Exec(ctx,
		`INSERT INTO applications(application, address, secret, timestamped) VALUES(?, ?, ?, ?)`,
		"svcA", "https://a.example.com", "0123456789abcdef", "2026-08-24T00:00:00Z"))

	token, err := v.Authenticate(ctx, "token", "svcA", "0123456789abcdef")
	require.NoError(t, err)

	claims, err := v.Untokenize(token)
	require.NoError(t, err)
	require.Equal(t, "token", claims.Scheme)
	require.Equal(t, "svcA", claims.Username)

	_, err = v.Authenticate(ctx, "token", "svcA", "0123456789abcdeX")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = v.Authenticate(ctx, "token", "ghost", "0123456789abcdef")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = v.Authenticate(ctx, "digest", "svcA", "0123456789abcdef")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifySecret(t *testing.T) {
	var v, s = testVault(t)
	var ctx = context.Background()

	require.NoError(t, s.Exec(ctx,
		`INSERT INTO applications(application, address, secret, timestamped) VALUES(?, ?, ?, ?)`,
		"svcA", "https://a.example.com", "0123456789abcdef", "2026-08-24T00:00:00Z"))

	require.NoError(t, v.VerifySecret(ctx, "svcA", "0123456789abcdef"))
	require.ErrorIs(t, v.VerifySecret(ctx, "svcA", "nope"), ErrUnauthorized)
	require.ErrorIs(t, v.VerifySecret(ctx, "ghost", "nope"), store.ErrNotFound)
}

func TestFallbackSecretIsNotLogged(t *testing.T) {
	var hook = logtest.NewGlobal()
	defer hook.Reset()

	var s, err = store.Open(store.Embedded, t.TempDir()+"/amebo.db")
	require.NoError(t, err)
	defer s.Close()

	New(s, "")
	require.NotEmpty(t, hook.AllEntries())
	for _, entry := range hook.AllEntries() {
		require.NotContains(t, entry.Message, hostSecret())
		require.NotContains(t, entry.Data, "secret")
	}
}

func TestUntokenizeRejectsForgery(t *testing.T) {
	var v, _ = testVault(t)
	var other = New(v.store, "different-secret")

	token, err := other.Tokenize("basic", "administrator")
	require.NoError(t, err)

	_, err = v.Untokenize(token)
	require.ErrorIs(t, err, ErrUnauthorized)
}
