package pattern

import (
	"errors"
	"os"
	"sync"
)

// DefaultMaxBuf is one memory page.
var DefaultMaxBuf = os.Getpagesize()

// DefaultPattern is installed by Reset.
const DefaultPattern = "y\n"

var (
	ErrInvalidInput = errors.New("pattern: empty input")
	ErrOutOfMemory  = errors.New("pattern: cannot allocate expansion buffer")
	ErrReleased     = errors.New("pattern: store released")
)

// Allocator returns a zeroed buffer of n bytes or ErrOutOfMemory.
type Allocator func(n int) ([]byte, error)

// LimitAllocator refuses allocations above limit bytes. limit <= 0 means no limit.
func LimitAllocator(limit int) Allocator {
	return func(n int) ([]byte, error) {
		if limit > 0 && n > limit {
			return nil, ErrOutOfMemory
		}
		return make([]byte, n), nil
	}
}

// expansion is the immutable (pattern, buffer) pair swapped in by Replace.
type expansion struct {
	pattern []byte
	buf     []byte
}

// Store holds the current pattern and its pre-expanded buffer.
// All access goes through one mutex: readers and writers alike.
type Store struct {
	mu     sync.Mutex
	maxBuf int
	alloc  Allocator
	cur    *expansion
}

type Option func(*Store)

// WithAllocator overrides the buffer allocator.
func WithAllocator(a Allocator) Option {
	return func(s *Store) { s.alloc = a }
}

// NewStore returns an empty store. Call Reset before anything else.
func NewStore(maxBuf int, opts ...Option) *Store {
	if maxBuf <= 0 {
		maxBuf = DefaultMaxBuf
	}
	s := &Store{
		maxBuf: maxBuf,
		alloc:  LimitAllocator(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxBuf returns the expansion buffer ceiling.
func (s *Store) MaxBuf() int {
	return s.maxBuf
}

// Normalize returns p with a trailing newline, appending one if missing.
// The result never aliases p.
func Normalize(p []byte) []byte {
	out := make([]byte, len(p), len(p)+1)
	copy(out, p)
	if len(out) == 0 || out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out
}

// RepeatCount is the number of whole copies of an n-byte pattern that fit in maxBuf,
// or 1 when n >= maxBuf.
func RepeatCount(n, maxBuf int) int {
	if n >= maxBuf {
		return 1
	}
	return maxBuf / n
}

// Replace installs p (newline-normalized) as the new pattern.
// On error the previous pattern stays in place. Replace fails with
// ErrReleased until Reset has installed a first pattern.
func (s *Store) Replace(p []byte) error {
	return s.install(p, false)
}

// Reset installs DefaultPattern, also on a released store.
func (s *Store) Reset() error {
	return s.install([]byte(DefaultPattern), true)
}

func (s *Store) install(p []byte, reset bool) error {
	if len(p) == 0 {
		return ErrInvalidInput
	}
	next, err := s.expand(Normalize(p))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil && !reset {
		return ErrReleased
	}
	s.cur = next
	return nil
}

func (s *Store) expand(p []byte) (*expansion, error) {
	n := len(p)
	if n == 0 {
		return nil, ErrInvalidInput
	}
	size := RepeatCount(n, s.maxBuf) * n
	buf, err := s.alloc(size)
	if err != nil {
		return nil, ErrOutOfMemory
	}
	if len(buf) != size {
		return nil, ErrOutOfMemory
	}
	for i := 0; i < size; i += n {
		copy(buf[i:], p)
	}
	return &expansion{pattern: p, buf: buf}, nil
}

// Snapshot runs fn with the current expansion buffer while holding the lock.
// buf must not be retained after fn returns.
func (s *Store) Snapshot(fn func(buf []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return ErrReleased
	}
	return fn(s.cur.buf)
}

// Pattern returns a copy of the current pattern.
func (s *Store) Pattern() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil, ErrReleased
	}
	out := make([]byte, len(s.cur.pattern))
	copy(out, s.cur.pattern)
	return out, nil
}

// Sizes reports the current pattern length and expansion buffer length.
func (s *Store) Sizes() (patternSize, bufSize int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return 0, 0, ErrReleased
	}
	return len(s.cur.pattern), len(s.cur.buf), nil
}

// Release drops the current pattern. Everything but Reset fails afterwards.
func (s *Store) Release() {
	s.mu.Lock()
	s.cur = nil
	s.mu.Unlock()
}
