package device

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
)

import (
	"github.com/nanjiek/pixiu-yes/internal/circular"
	"github.com/nanjiek/pixiu-yes/internal/pattern"
)

var (
	ErrClosed       = errors.New("device: not initialized or shut down")
	ErrRegistration = errors.New("device: registration failed")
	ErrInvalidSeek  = errors.New("device: invalid seek")

	// Re-exported so callers only need this package.
	ErrInvalidInput  = pattern.ErrInvalidInput
	ErrOutOfMemory   = pattern.ErrOutOfMemory
	ErrTransferFault = circular.ErrTransferFault
)

// Registrar exposes an initialized device to its clients.
type Registrar interface {
	Register(d *Device) error
}

// RegistrarFunc adapts a function to Registrar.
type RegistrarFunc func(d *Device) error

func (f RegistrarFunc) Register(d *Device) error { return f(d) }

// Device is the yes device: an endless stream repeating the current pattern.
type Device struct {
	store *pattern.Store
	log   *slog.Logger
}

var _ io.ReaderAt = (*Device)(nil)

// New wraps store. The device stays closed until Init.
func New(store *pattern.Store, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{store: store, log: logger}
}

// Init installs the default pattern and then registers the device.
// A registration failure releases the pattern again.
func (d *Device) Init(r Registrar) error {
	if err := d.store.Reset(); err != nil {
		return err
	}
	if r == nil {
		return nil
	}
	if err := r.Register(d); err != nil {
		d.log.Error("failed to register yes device", "error", err)
		d.store.Release()
		return fmt.Errorf("%w: %v", ErrRegistration, err)
	}
	return nil
}

// Shutdown releases the pattern. Later reads and writes return ErrClosed.
func (d *Device) Shutdown() {
	d.store.Release()
}

// Read copies count bytes of the stream at offset into dst and returns the
// number of bytes produced. The caller advances its own cursor.
func (d *Device) Read(dst circular.Transfer, count int, offset uint64) (int, error) {
	var n int
	err := d.store.Snapshot(func(buf []byte) error {
		var err error
		n, err = circular.Fill(dst, buf, offset, count)
		return err
	})
	if err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

// ReadAt fills p from the stream at off. It never returns io.EOF.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrInvalidSeek
	}
	return d.Read(circular.Slice(p), len(p), uint64(off))
}

// Write replaces the pattern with src, appending a newline if missing, and
// returns the number of pattern bytes consumed (len(src) or len(src)+1).
// An empty src is a no-op.
func (d *Device) Write(src []byte) (int, error) {
	count := len(src)
	if count == 0 {
		return 0, nil
	}
	if count == math.MaxInt {
		return 0, ErrInvalidInput
	}

	kbuf := make([]byte, count, count+1)
	copy(kbuf, src)
	if kbuf[count-1] != '\n' {
		kbuf = append(kbuf, '\n')
		count++
	}

	if err := d.store.Replace(kbuf); err != nil {
		return 0, mapErr(err)
	}
	return count, nil
}

// Pattern returns a copy of the current pattern.
func (d *Device) Pattern() ([]byte, error) {
	p, err := d.store.Pattern()
	return p, mapErr(err)
}

// Sizes reports the pattern length and expansion buffer length.
func (d *Device) Sizes() (patternSize, bufSize int, err error) {
	patternSize, bufSize, err = d.store.Sizes()
	return patternSize, bufSize, mapErr(err)
}

// Open returns a handle with its own cursor at offset 0.
func (d *Device) Open() *File {
	return &File{dev: d}
}

func mapErr(err error) error {
	if errors.Is(err, pattern.ErrReleased) {
		return ErrClosed
	}
	return err
}
