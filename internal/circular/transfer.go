package circular

import (
	"errors"
	"fmt"
	"io"
)

// ErrTransferFault is reported when the destination rejects a copy.
var ErrTransferFault = errors.New("circular: transfer fault")

// Transfer copies src into the caller's destination starting at position at.
// Fill calls CopyOut with strictly increasing, contiguous positions.
type Transfer interface {
	CopyOut(at int, src []byte) error
}

// Slice is a caller buffer. A copy that does not fit is a fault.
type Slice []byte

func (s Slice) CopyOut(at int, src []byte) error {
	if at < 0 || at > len(s) || len(src) > len(s)-at {
		return ErrTransferFault
	}
	copy(s[at:], src)
	return nil
}

// Writer forwards copies to an io.Writer in order.
type Writer struct {
	W io.Writer
}

func (w Writer) CopyOut(_ int, src []byte) error {
	n, err := w.W.Write(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFault, err)
	}
	if n != len(src) {
		return fmt.Errorf("%w: %v", ErrTransferFault, io.ErrShortWrite)
	}
	return nil
}
