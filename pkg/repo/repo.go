// Package repo is a small generic repository over graph nodes.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no entity has the requested ID.
var ErrNotFound = errors.New("not found")

// Repository stores entities of type T keyed by ID.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	// Save creates the entity or overwrites the properties of an existing one.
	Save(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts selects a page of entities. Filter keys are property names
// matched for equality; OrderBy names a property, prefixed with "-" for
// descending order. A Limit of zero means DefaultLimit.
type ListOpts struct {
	Offset  int
	Limit   int
	Filter  map[string]any
	OrderBy string
}

// DefaultLimit caps List when ListOpts.Limit is unset.
const DefaultLimit = 100
