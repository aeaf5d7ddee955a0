package device

import (
	"io"
	"math"
	"sync"
)

import (
	"github.com/nanjiek/pixiu-yes/internal/circular"
)

// File is an open handle on a Device with its own read cursor.
// Writes replace the device pattern and leave the cursor alone.
type File struct {
	dev *Device

	mu  sync.Mutex
	pos int64
}

var (
	_ io.Reader = (*File)(nil)
	_ io.Writer = (*File)(nil)
	_ io.Seeker = (*File)(nil)
)

func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.dev.Read(circular.Slice(p), len(p), uint64(f.pos))
	if err != nil {
		return 0, err
	}
	if int64(n) > math.MaxInt64-f.pos {
		f.pos = math.MaxInt64
	} else {
		f.pos += int64(n)
	}
	return n, nil
}

// Write replaces the pattern. The returned count excludes an appended newline
// so that it never exceeds len(p).
func (f *File) Write(p []byte) (int, error) {
	n, err := f.dev.Write(p)
	if err != nil {
		return 0, err
	}
	return min(n, len(p)), nil
}

// Seek supports io.SeekStart and io.SeekCurrent. The stream has no end, so
// io.SeekEnd is rejected.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		if offset > 0 && f.pos > math.MaxInt64-offset {
			return 0, ErrInvalidSeek
		}
		abs = f.pos + offset
	default:
		return 0, ErrInvalidSeek
	}
	if abs < 0 {
		return 0, ErrInvalidSeek
	}
	f.pos = abs
	return abs, nil
}

// Offset returns the current cursor.
func (f *File) Offset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}
