package neigh

import "errors"

var (
	// ErrUnknownScope is returned when the scope does not exist.
	ErrUnknownScope = errors.New("unknown scope")
	// ErrInvalidAddress is returned for addresses that cannot be resolved,
	// such as multicast or an address of the wrong family.
	ErrInvalidAddress = errors.New("invalid neighbour address")
	// ErrUnreachable is delivered to waiters when resolution retries are
	// exhausted.
	ErrUnreachable = errors.New("destination unreachable")
	// ErrFlushed is delivered to waiters when the entry was invalidated.
	ErrFlushed = errors.New("neighbour entry invalidated")
	// ErrPendingLimit is returned when too many resolutions are in flight.
	ErrPendingLimit = errors.New("too many pending resolutions")
	// ErrEntryLimit is returned when the cache holds too many entries.
	ErrEntryLimit = errors.New("too many neighbour entries")
	// ErrClosed is returned when the cache is not running.
	ErrClosed = errors.New("neighbour cache is closed")
)
