package stub

import (
	"context"
	"errors"
)

// ErrNotFound indicates a stub was not found.
var ErrNotFound = errors.New("stub not found")

// Loader is the port for reading stub definitions from their source.
type Loader interface {
	// LoadAll returns every stub in catalogue order.
	LoadAll(ctx context.Context) ([]*Stub, error)
}
