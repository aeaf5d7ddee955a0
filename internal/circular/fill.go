package circular

import (
	"errors"
	"fmt"
)

var errEmptyBuffer = errors.New("circular: empty buffer")

// Fill copies count bytes of the infinite stream stream[i] = buf[i mod len(buf)],
// starting at offset, into dst. It works in three steps: a head copy up to the
// end of buf, whole-buffer copies, and a tail copy from the start of buf.
//
// On a transfer fault Fill stops immediately; dst may hold a partial result.
func Fill(dst Transfer, buf []byte, offset uint64, count int) (int, error) {
	if count <= 0 {
		return 0, nil
	}
	size := len(buf)
	if size == 0 {
		return 0, errEmptyBuffer
	}

	produced := 0
	if start := int(offset % uint64(size)); start > 0 {
		n := min(count, size-start)
		if err := dst.CopyOut(0, buf[start:start+n]); err != nil {
			return 0, fault(err)
		}
		produced = n
	}

	for produced+size < count {
		if err := dst.CopyOut(produced, buf); err != nil {
			return 0, fault(err)
		}
		produced += size
	}

	if produced < count {
		if err := dst.CopyOut(produced, buf[:count-produced]); err != nil {
			return 0, fault(err)
		}
		produced = count
	}
	return produced, nil
}

func fault(err error) error {
	if errors.Is(err, ErrTransferFault) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransferFault, err)
}
