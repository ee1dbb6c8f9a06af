package fetch

import (
	"errors"
	"fmt"
)

// ErrDisallowed is wrapped when robots.txt forbids the listing URL.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// ErrRobotsUnavailable is wrapped when robots.txt could not be read, so
// whether the URL is allowed is not yet known.
var ErrRobotsUnavailable = errors.New("robots.txt unavailable")

// ErrTooLarge is wrapped when a page exceeds the body size limit.
var ErrTooLarge = errors.New("page exceeds size limit")

// Kind classifies a fetch failure.
type Kind int

const (
	// Transient failures may succeed on retry.
	Transient Kind = iota
	// Permanent failures will not.
	Permanent
)

func (k Kind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// FetchError is returned by Client.Fetch when a page could not be retrieved.
type FetchError struct {
	Kind       Kind
	URL        string
	StatusCode int // zero for transport errors
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s fetch error for %s after %d attempts: %v", e.Kind, e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s fetch error for %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a transient FetchError.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Transient
}

// IsPermanent reports whether err is a permanent FetchError.
func IsPermanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Permanent
}
