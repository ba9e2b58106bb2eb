package models

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds shared by every service. Callers wrap them with context and
// match with errors.Is; the HTTP surface maps each kind to one status code.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrConflict         = errors.New("conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrUpstream         = errors.New("upstream error")
	ErrTimeout          = errors.New("timeout")
)

// Kind identifies which sentinel an error chain carries.
type Kind string

const (
	KindNone             Kind = ""
	KindInvalidArgument  Kind = "invalid_argument"
	KindNotFound         Kind = "not_found"
	KindInvalidState     Kind = "invalid_state"
	KindConflict         Kind = "conflict"
	KindStoreUnavailable Kind = "store_unavailable"
	KindUpstream         Kind = "upstream_error"
	KindTimeout          Kind = "timeout"
	KindInternal         Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrNotFound, KindNotFound},
	{ErrInvalidState, KindInvalidState},
	{ErrConflict, KindConflict},
	{ErrStoreUnavailable, KindStoreUnavailable},
	{ErrUpstream, KindUpstream},
	{ErrTimeout, KindTimeout},
}

// KindOf returns the first taxonomy kind found in err's chain, KindInternal for
// unclassified errors and KindNone for nil.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// FromContext tags a deadline expiry with ErrTimeout so callers see the
// taxonomy kind rather than a bare context error.
func FromContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
