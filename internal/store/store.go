// Package store holds the document backends the ledger persists through.
// Every backend stores opaque JSON documents keyed by name and only supports
// whole-document reads and writes.
package store

import (
	"context"
	"errors"
)

// ErrNotExist is returned by Get when no document with that name was saved.
var ErrNotExist = errors.New("document does not exist")

type Blob interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, body []byte) error
}
