// Package store persists users, tasks and avatars. Every backend returns
// ErrNotFound for a record that is absent or not visible to the caller.
package store

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// TaskQuery narrows and orders a task listing. The owner scope is passed
// separately and is never optional.
type TaskQuery struct {
	// Completed filters on the flag when non-nil.
	Completed *bool
	// SortField is passed to the backend as-is; empty means insertion order.
	SortField string
	SortDesc  bool
	// Limit and Skip of zero mean unbounded.
	Limit int64
	Skip  int64
}
