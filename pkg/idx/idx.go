// Package idx mints the record identifiers of the auth service: identity,
// session, reset grant, passkey and audit event ids, plus request ids. They
// are ULIDs, so rows sort by creation time and the time is recoverable.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type ID string

const Zero ID = ""

// ErrInvalid reports a string that is not a canonical ULID.
var ErrInvalid = errors.New("idx: invalid id")

// One monotonic source for the process keeps ids minted in the same
// millisecond ordered.
var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New mints an id stamped with the current time.
func New() ID {
	return NewAt(time.Now())
}

// NewAt mints an id stamped with t.
func NewAt(t time.Time) ID {
	mu.Lock()
	defer mu.Unlock()
	return ID(ulid.MustNew(ulid.Timestamp(t.UTC()), entropy).String())
}

// MustNew is New for callers that cannot handle an empty id.
func MustNew() ID {
	id := New()
	if id.IsZero() {
		panic("idx: empty id")
	}
	return id
}

// Parse validates an id that arrived from outside, such as the rid of a
// reset link. Surrounding whitespace is ignored.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalid
	}
	if _, err := ulid.ParseStrict(s); err != nil {
		return Zero, ErrInvalid
	}
	return ID(s), nil
}

// MustParse is Parse for fixed ids in tests.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) IsZero() bool { return id == Zero }

func (id ID) String() string { return string(id) }

// Time is the mint time, or the zero time for a malformed id.
func (id ID) Time() time.Time {
	u, err := ulid.ParseStrict(string(id))
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}
