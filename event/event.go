// Package event defines the on-disk representation of a single
// allocation or deallocation observation and the stream codec used to
// read and write them.
//
// The wire format is a sequence of fixed-size records so that a stream
// is effectively an array-of-structs: no record ever needs to be
// skipped by parsing a length prefix, which is what makes the k-way
// merge in package ingest cheap.
package event

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

// Kind discriminates the two event variants. It occupies the first
// byte of the on-disk record.
type Kind uint8

const (
	KindAlloc Kind = iota
	KindDealloc
)

func (k Kind) String() string {
	switch k {
	case KindAlloc:
		return "alloc"
	case KindDealloc:
		return "dealloc"
	default:
		return "unknown"
	}
}

// Event is a single Alloc or Dealloc observation. BTFp and Size are
// meaningful only when Kind == KindAlloc; they are zero-valued (and
// serve as the record's padding) for KindDealloc, which keeps both
// variants the same size on disk.
type Event struct {
	Kind     Kind
	Seq      uint64
	AfterNS  uint64
	Addr     uint64
	ThreadID uint64
	BTFp     uint64 // Alloc only
	Size     uint64 // Alloc only
}

// Size is the fixed on-disk size of any Event: 1 discriminant byte
// plus six little-endian uint64 fields.
const Size = 1 + 6*8

var order = binary.LittleEndian

// Encode appends the wire encoding of e to buf and returns the
// extended slice.
func Encode(buf []byte, e Event) []byte {
	var rec [Size]byte
	rec[0] = byte(e.Kind)
	order.PutUint64(rec[1:9], e.Seq)
	order.PutUint64(rec[9:17], e.AfterNS)
	order.PutUint64(rec[17:25], e.Addr)
	order.PutUint64(rec[25:33], e.ThreadID)
	order.PutUint64(rec[33:41], e.BTFp)
	order.PutUint64(rec[41:49], e.Size)
	return append(buf, rec[:]...)
}

// Decode reads one fixed-size record from buf, which must be exactly
// Size bytes.
func Decode(buf []byte) Event {
	var e Event
	e.Kind = Kind(buf[0])
	e.Seq = order.Uint64(buf[1:9])
	e.AfterNS = order.Uint64(buf[9:17])
	e.Addr = order.Uint64(buf[17:25])
	e.ThreadID = order.Uint64(buf[25:33])
	e.BTFp = order.Uint64(buf[33:41])
	e.Size = order.Uint64(buf[41:49])
	return e
}

// ErrDecode is returned by Reader.Read when a read fails in a way that
// isn't explained by a clean end-of-stream: any read error other than
// EOF. A trailing fragment shorter than Size is not an ErrDecode; Read
// treats it as io.EOF.
var ErrDecode = errors.New("event: malformed record")

// Writer appends Events to an underlying io.Writer using the fixed
// record codec, buffering writes the same way Reader buffers reads.
type Writer struct {
	w   *bufio.Writer
	buf []byte
}

// NewWriter wraps w in a buffered event Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write appends e to the stream. It does not flush.
func (w *Writer) Write(e Event) error {
	w.buf = Encode(w.buf[:0], e)
	_, err := w.w.Write(w.buf)
	return err
}

// Flush flushes any buffered output to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Reader reads a stream of fixed-size Events from an underlying
// io.Reader.
type Reader struct {
	r   *bufio.Reader
	buf [Size]byte
}

// NewReader wraps r in a buffered event Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read returns the next Event in the stream. It returns io.EOF (not
// wrapped) once the stream is cleanly exhausted on a record boundary.
// A partial trailing record — fewer than Size bytes available before
// EOF — is also treated as a clean end of stream, since a writer that
// crashed or was killed mid-record leaves exactly this shape behind.
// Any other read failure is reported as ErrDecode wrapping the
// underlying error.
func (r *Reader) Read() (Event, error) {
	n, err := io.ReadFull(r.r, r.buf[:])
	switch {
	case err == nil:
		return Decode(r.buf[:]), nil
	case errors.Is(err, io.EOF) && n == 0:
		return Event{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return Event{}, io.EOF
	default:
		return Event{}, errDecodef(err)
	}
}

func errDecodef(cause error) error {
	return &decodeError{cause}
}

type decodeError struct{ cause error }

func (e *decodeError) Error() string        { return "event: decode failed: " + e.cause.Error() }
func (e *decodeError) Unwrap() error        { return e.cause }
func (e *decodeError) Is(target error) bool { return target == ErrDecode }
