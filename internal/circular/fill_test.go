package circular

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"
)

func expand(p []byte, maxBuf int) []byte {
	k := 1
	if len(p) < maxBuf {
		k = maxBuf / len(p)
	}
	return bytes.Repeat(p, k)
}

func naive(p []byte, offset uint64, count int) []byte {
	out := make([]byte, count)
	n := uint64(len(p))
	for i := range out {
		out[i] = p[(offset+uint64(i))%n]
	}
	return out
}

func TestFillScenarios(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		offset  uint64
		count   int
		want    string
	}{
		{"default", "y\n", 0, 4, "y\ny\n"},
		{"whole pattern", "ab\n", 0, 3, "ab\n"},
		{"wraparound", "ab\n", 3, 3, "ab\n"},
		{"mid pattern", "ab\n", 1, 2, "b\n"},
		{"zero count", "ab\n", 7, 0, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf := expand([]byte(c.pattern), 4096)
			dst := make([]byte, c.count)
			n, err := Fill(Slice(dst), buf, c.offset, c.count)
			if err != nil {
				t.Fatalf("fill: %v", err)
			}
			if n != c.count || string(dst) != c.want {
				t.Fatalf("got %d %q, want %q", n, dst, c.want)
			}
		})
	}
}

func TestFillPatternLargerThanMaxBuf(t *testing.T) {
	p := make([]byte, 5000)
	for i := range p {
		p[i] = byte('a' + i%26)
	}
	p[len(p)-1] = '\n'
	buf := expand(p, 4096)
	if len(buf) != 5000 {
		t.Fatalf("buf = %d", len(buf))
	}

	count := 2*5000 + 123
	dst := make([]byte, count)
	if _, err := Fill(Slice(dst), buf, 0, count); err != nil {
		t.Fatalf("fill: %v", err)
	}
	want := append(append(append([]byte(nil), p...), p...), p[:123]...)
	if !bytes.Equal(dst, want) {
		t.Fatalf("two wraps mismatch")
	}
}

func TestFillMatchesInfiniteStream(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 300; i++ {
		n := 1 + rng.Intn(300)
		p := make([]byte, n)
		rng.Read(p)
		maxBuf := 1 + rng.Intn(512)
		buf := expand(p, maxBuf)

		offset := rng.Uint64()
		if i%3 == 0 {
			offset = uint64(rng.Intn(4 * len(buf)))
		}
		count := rng.Intn(5 * len(buf))

		dst := make([]byte, count)
		got, err := Fill(Slice(dst), buf, offset, count)
		if err != nil {
			t.Fatalf("fill: %v", err)
		}
		if got != count {
			t.Fatalf("produced %d, want %d", got, count)
		}
		if want := naive(p, offset, count); !bytes.Equal(dst, want) {
			t.Fatalf("mismatch: n=%d maxBuf=%d offset=%d count=%d", n, maxBuf, offset, count)
		}
	}
}

func TestFillMaxOffset(t *testing.T) {
	p := []byte("abc\n")
	buf := expand(p, 4096)
	dst := make([]byte, 9)
	if _, err := Fill(Slice(dst), buf, math.MaxUint64, 9); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if want := naive(p, math.MaxUint64, 9); !bytes.Equal(dst, want) {
		t.Fatalf("got %q, want %q", dst, want)
	}
}

func TestFillBodyUsesWholeBufferCopies(t *testing.T) {
	buf := []byte("0123456789")
	var rec recorder
	if _, err := Fill(&rec, buf, 4, 35); err != nil {
		t.Fatalf("fill: %v", err)
	}
	want := []int{6, 10, 10, 9}
	if len(rec.sizes) != len(want) {
		t.Fatalf("copies = %v, want %v", rec.sizes, want)
	}
	for i := range want {
		if rec.sizes[i] != want[i] {
			t.Fatalf("copies = %v, want %v", rec.sizes, want)
		}
	}
}

func TestFillShortDestinationFaults(t *testing.T) {
	buf := []byte("ab\n")
	dst := make([]byte, 4)
	n, err := Fill(Slice(dst), buf, 0, 10)
	if !errors.Is(err, ErrTransferFault) {
		t.Fatalf("err = %v, want ErrTransferFault", err)
	}
	if n != 0 {
		t.Fatalf("n = %d on fault", n)
	}
}

func TestFillWriterFault(t *testing.T) {
	boom := errors.New("boom")
	_, err := Fill(Writer{W: failingWriter{err: boom}}, []byte("y\n"), 0, 4)
	if !errors.Is(err, ErrTransferFault) {
		t.Fatalf("err = %v, want ErrTransferFault", err)
	}
}

func TestFillWriter(t *testing.T) {
	var out bytes.Buffer
	n, err := Fill(Writer{W: &out}, []byte("ab\n"), 2, 7)
	if err != nil || n != 7 {
		t.Fatalf("fill: n=%d err=%v", n, err)
	}
	if out.String() != "\nab\nab\n" {
		t.Fatalf("got %q", out.String())
	}
}

func TestFillEmptyBuffer(t *testing.T) {
	if _, err := Fill(Slice(make([]byte, 1)), nil, 0, 1); err == nil {
		t.Fatalf("expected error for empty buffer")
	}
}

type recorder struct {
	sizes []int
	next  int
}

func (r *recorder) CopyOut(at int, src []byte) error {
	if at != r.next {
		return errors.New("non-contiguous copy")
	}
	r.sizes = append(r.sizes, len(src))
	r.next += len(src)
	return nil
}

type failingWriter struct{ err error }

func (f failingWriter) Write([]byte) (int, error) { return 0, f.err }

func BenchmarkFillLarge(b *testing.B) {
	buf := expand([]byte("y\n"), 4096)
	dst := make([]byte, 1<<20)
	b.SetBytes(int64(len(dst)))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Fill(Slice(dst), buf, uint64(i), len(dst))
	}
}
