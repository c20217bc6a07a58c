// Package catalog manages the broker's control-plane entities:
// applications, the actions they own, and the subscriptions standing
// against those actions. Listings share a common filter/pagination
// surface; insertions enforce uniqueness and secret ownership.
package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rayattack/amebo/store"
	"github.com/rayattack/amebo/vault"
)

// ErrInvalid is returned for a structurally bad entity (name, address,
// handler, or bounds), before any SQL runs.
var ErrInvalid = errors.New("catalog: invalid")

// DefaultPagination is the page size used when the query omits one.
const DefaultPagination = 25

// Catalog exposes list and insert operations over the store.
type Catalog struct {
	store         *store.Store
	vault         *vault.Vault
	maxPagination int
}

// New builds a Catalog. maxPagination caps the pagination parameter of
// every listing.
func New(s *store.Store, v *vault.Vault, maxPagination int) *Catalog {
	return &Catalog{store: s, vault: v, maxPagination: maxPagination}
}

// Page carries normalized pagination. Zero values mean defaults.
type Page struct {
	Page       int
	Pagination int
}

// limits clamps a Page to (LIMIT, OFFSET) terms.
func (c *Catalog) limits(p Page) (int, int) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Pagination < 1 {
		p.Pagination = DefaultPagination
	}
	if p.Pagination > c.maxPagination {
		p.Pagination = c.maxPagination
	}
	return p.Pagination, (p.Page - 1) * p.Pagination
}

// steps starts a filter builder in the store's dialect.
func (c *Catalog) steps() *store.Steps {
	return store.NewSteps(c.store.Engine())
}

// now renders the broker's canonical timestamp.
func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// absoluteHTTP verifies an absolute http(s) URL.
func absoluteHTTP(address string) error {
	var u, err = url.Parse(address)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute http(s) url", ErrInvalid, address)
	}
	return nil
}
