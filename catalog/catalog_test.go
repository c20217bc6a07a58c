package catalog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rayattack/amebo/store"
	"github.com/rayattack/amebo/vault"
)

const (
	svcASecret = "0123456789abcdef"
	svcBSecret = "fedcba9876543210"
)

func testCatalog(t *testing.T) (*Catalog, *store.Store) {
	t.Helper()
	var s, err = store.Open(store.Embedded, t.TempDir()+"/amebo.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Initialize(context.Background()))
	return New(s, vault.New(s, "test-secret"), 100), s
}

func seedApplication(t *testing.T, c *Catalog, name, address, secret string) {
	t.Helper()
	require.NoError(t, c.InsertApplication(context.Background(), &Application{
		Application: name, Address: address, Secret: secret,
	}))
}

func TestInsertApplicationValidation(t *testing.T) {
	var c, _ = testCatalog(t)
	var ctx = context.Background()

	var cases = []Application{
		{Application: "", Address: "https://a.example.com", Secret: svcASecret},
		{Application: "has space", Address: "https://a.example.com", Secret: svcASecret},
		{Application: "svcA", Address: "not-a-url", Secret: svcASecret},
		{Application: "svcA", Address: "ftp://a.example.com", Secret: svcASecret},
		{Application: "svcA", Address: "https://a.example.com", Secret: "short"},
	}
	for _, app := range cases {
		require.ErrorIs(t, c.InsertApplication(ctx, &app), ErrInvalid)
	}

	require.NoError(t, c.InsertApplication(ctx, &Application{
		Application: "svcA", Address: "https://a.example.com", Secret: svcASecret,
	}))
}

func TestDuplicateApplicationConflicts(t *testing.T) {
	var c, _ = testCatalog(t)
	seedApplication(t, c, "svcA", "https://a.example.com", svcASecret)

	var err = c.InsertApplication(context.Background(), &Application{
		Application: "svcA", Address: "https://elsewhere.example.com", Secret: svcBSecret,
	})
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestListApplicationsRedactsSecrets(t *testing.T) {
	var c, _ = testCatalog(t)
	seedApplication(t, c, "svcA", "https://a.example.com", svcASecret)
	seedApplication(t, c, "svcB", "https://b.example.com", svcBSecret)

	apps, err := c.ListApplications(context.Background(), ApplicationFilter{})
	require.NoError(t, err)
	require.Len(t, apps, 2)
	for _, app := range apps {
		require.Equal(t, Redacted, app.Secret)
	}

	apps, err = c.ListApplications(context.Background(), ApplicationFilter{Application: "svcB"})
	require.NoError(t, err)
	require.Len(t, apps, 1)
	require.Equal(t, "svcB", apps[0].Application)
}

func TestUpdateAddressIsSecretGated(t *testing.T) {
	var c, _ = testCatalog(t)
	var ctx = context.Background()
	seedApplication(t, c, "svcA", "https://a.example.com", svcASecret)

	// Wrong secret: accepted silently, nothing changes.
	require.NoError(t, c.UpdateAddress(ctx, "svcA", "https://new.example.com", "wrong-secret-1234"))
	apps, err := c.ListApplications(ctx, ApplicationFilter{})
	require.NoError(t, err)
	require.Equal(t, "https://a.example.com", apps[0].Address)

	require.NoError(t, c.UpdateAddress(ctx, "svcA", "https://new.example.com/", svcASecret))
	apps, err = c.ListApplications(ctx, ApplicationFilter{})
	require.NoError(t, err)
	require.Equal(t, "https://new.example.com", apps[0].Address)
}

func TestInsertActionRequiresOwnership(t *testing.T) {
	var c, _ = testCatalog(t)
	var ctx = context.Background()
	seedApplication(t, c, "svcA", "https://a.example.com", svcASecret)

	var schema = json.RawMessage(`{"type": "object"}`)

	require.ErrorIs(t, c.InsertAction(ctx, &Action{
		Action: "user.created", Application: "svcA", Schemata: schema, Secret: "wrong",
	}), vault.ErrUnauthorized)

	require.ErrorIs(t, c.InsertAction(ctx, &Action{
		Action: "user.created", Application: "ghost", Schemata: schema, Secret: svcASecret,
	}), vault.ErrUnauthorized)

	require.ErrorIs(t, c.InsertAction(ctx, &Action{
		Action: "ab", Application: "svcA", Schemata: schema, Secret: svcASecret,
	}), ErrInvalid)

	require.NoError(t, c.InsertAction(ctx, &Action{
		Action: "user.created", Application: "svcA", Schemata: schema, Secret: svcASecret,
	}))

	actions, err := c.ListActions(ctx, ActionFilter{Action: "user"})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.JSONEq(t, `{"type": "object"}`, string(actions[0].Schemata))
}

func TestInsertSubscription(t *testing.T) {
	var c, _ = testCatalog(t)
	var ctx = context.Background()
	seedApplication(t, c, "svcA", "https://a.example.com", svcASecret)
	seedApplication(t, c, "svcB", "https://b.example.com/", svcBSecret)
	require.NoError(t, c.InsertAction(ctx, &Action{
		Action: "user.created", Application: "svcA",
		Schemata: json.RawMessage(`{"type": "object"}`), Secret: svcASecret,
	}))

	var sub = Subscription{
		Application: "svcB", Action: "user.created", Handler: "/hooks/uc", Secret: svcBSecret,
	}
	require.NoError(t, c.InsertSubscription(ctx, &sub))
	require.NotZero(t, sub.Subscription)
	// The trailing slash of the address is stripped before concatenation.
	require.Equal(t, "https://b.example.com/hooks/uc", sub.Handler)
	require.Equal(t, 3, sub.MaxRetries)

	// Same (application, action, handler) conflicts.
	var dup = Subscription{
		Application: "svcB", Action: "user.created", Handler: "/hooks/uc", Secret: svcBSecret,
	}
	require.ErrorIs(t, c.InsertSubscription(ctx, &dup), store.ErrConflict)

	// Secret mismatch is unauthorized.
	require.ErrorIs(t, c.InsertSubscription(ctx, &Subscription{
		Application: "svcB", Action: "user.created", Handler: "/hooks/other", Secret: "nope",
	}), vault.ErrUnauthorized)

	// Handler must be a rooted path.
	require.ErrorIs(t, c.InsertSubscription(ctx, &Subscription{
		Application: "svcB", Action: "user.created", Handler: "hooks/uc", Secret: svcBSecret,
	}), ErrInvalid)

	// Retry budget is bounded.
	require.ErrorIs(t, c.InsertSubscription(ctx, &Subscription{
		Application: "svcB", Action: "user.created", Handler: "/hooks/capped",
		MaxRetries: 10001, Secret: svcBSecret,
	}), ErrInvalid)

	// An action nobody registered is not-found, not a conflict.
	require.ErrorIs(t, c.InsertSubscription(ctx, &Subscription{
		Application: "svcB", Action: "user.vanished", Handler: "/hooks/uv", Secret: svcBSecret,
	}), store.ErrNotFound)
}

func TestListSubscriptionsFilters(t *testing.T) {
	var c, _ = testCatalog(t)
	var ctx = context.Background()
	seedApplication(t, c, "svcA", "https://a.example.com", svcASecret)
	seedApplication(t, c, "svcB", "https://b.example.com", svcBSecret)
	require.NoError(t, c.InsertAction(ctx, &Action{
		Action: "user.created", Application: "svcA",
		Schemata: json.RawMessage(`{"type": "object"}`), Secret: svcASecret,
	}))
	require.NoError(t, c.InsertAction(ctx, &Action{
		Action: "user.deleted", Application: "svcA",
		Schemata: json.RawMessage(`{"type": "object"}`), Secret: svcASecret,
	}))

	for _, action := range []string{"user.created", "user.deleted"} {
		require.NoError(t, c.InsertSubscription(ctx, &Subscription{
			Application: "svcB", Action: action, Handler: "/hooks/uc", Secret: svcBSecret,
		}))
	}

	subs, err := c.ListSubscriptions(ctx, SubscriptionFilter{})
	require.NoError(t, err)
	require.Len(t, subs, 2)
	// Deterministic ordering by surrogate id.
	require.Less(t, subs[0].Subscription, subs[1].Subscription)

	subs, err = c.ListSubscriptions(ctx, SubscriptionFilter{Action: "deleted"})
	require.NoError(t, err)
	require.Len(t, subs, 1)

	subs, err = c.ListSubscriptions(ctx, SubscriptionFilter{ID: subs[0].Subscription})
	require.NoError(t, err)
	require.Len(t, subs, 1)

	subs, err = c.ListSubscriptions(ctx, SubscriptionFilter{Page: Page{Page: 2, Pagination: 1}})
	require.NoError(t, err)
	require.Len(t, subs, 1)
}
