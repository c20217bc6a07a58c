// Package schemata holds the process-resident cache of compiled
// JSON-Schema validators, keyed by action name. Validators compile
// lazily on the first event published for an action and are never
// invalidated at runtime; changing an action's schema requires a
// process restart.
package schemata

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xeipuuv/gojsonschema"
)

// ValidationError reports a payload that does not conform to its
// action's schema.
type ValidationError struct {
	Action string
	Causes []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payload does not conform to %s schema: %s",
		e.Action, strings.Join(e.Causes, "; "))
}

// Cache maps action names to compiled validators. Concurrent first
// compilations of the same action are tolerated; both produce
// equivalent validators and the last writer wins.
type Cache struct {
	compiled *lru.Cache[string, *gojsonschema.Schema]
}

// New returns a Cache bounded to size actions.
func New(size int) (*Cache, error) {
	var compiled, err = lru.New[string, *gojsonschema.Schema](size)
	if err != nil {
		return nil, fmt.Errorf("building schema cache: %w", err)
	}
	return &Cache{compiled: compiled}, nil
}

// Validate checks payload against the action's schema document,
// compiling and caching the validator on first use. A non-conforming
// payload returns a *ValidationError; a schema that fails to compile
// returns a plain error.
func (c *Cache) Validate(action, schema string, payload []byte) error {
	var validator, ok = c.compiled.Get(action)
	if !ok {
		var err error
		if validator, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema)); err != nil {
			return fmt.Errorf("compiling %s schema: %w", action, err)
		}
		c.compiled.Add(action, validator)
	}

	var result, err = validator.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		// The payload is not valid JSON at all.
		return &ValidationError{Action: action, Causes: []string{err.Error()}}
	}
	if !result.Valid() {
		var causes = make([]string, 0, len(result.Errors()))
		for _, cause := range result.Errors() {
			causes = append(causes, cause.String())
		}
		return &ValidationError{Action: action, Causes: causes}
	}
	return nil
}

// Len reports how many validators are resident.
func (c *Cache) Len() int { return c.compiled.Len() }
