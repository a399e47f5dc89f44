package event

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	events := []Event{
		{Kind: KindAlloc, Seq: 0, AfterNS: 100, Addr: 0x1000, ThreadID: 1, BTFp: 0xdead, Size: 16},
		{Kind: KindDealloc, Seq: 1, AfterNS: 200, Addr: 0x1000, ThreadID: 1},
		{Kind: KindAlloc, Seq: 2, AfterNS: 300, Addr: 0x2000, ThreadID: 2, BTFp: 0xbeef, Size: 32},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, e := range events {
		if err := w.Write(e); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := NewReader(&buf)
	var got []Event
	for {
		e, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got = append(got, e)
	}

	if len(got) != len(events) {
		t.Fatalf("got %d events, want %d", len(got), len(events))
	}
	for i := range events {
		if got[i] != events[i] {
			t.Errorf("event %d: got %+v, want %+v", i, got[i], events[i])
		}
	}
}

func TestFixedSize(t *testing.T) {
	allocBuf := Encode(nil, Event{Kind: KindAlloc, Size: 1, BTFp: 1})
	deallocBuf := Encode(nil, Event{Kind: KindDealloc})
	if len(allocBuf) != Size {
		t.Fatalf("alloc record size = %d, want %d", len(allocBuf), Size)
	}
	if len(deallocBuf) != Size {
		t.Fatalf("dealloc record size = %d, want %d", len(deallocBuf), Size)
	}
}

func TestTruncatedTrailingRecord(t *testing.T) {
	buf := Encode(nil, Event{Kind: KindAlloc, Seq: 7, Size: 8})
	// Truncate to a partial record.
	truncated := buf[:Size-3]

	r := NewReader(bytes.NewReader(truncated))
	_, err := r.Read()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Read on truncated record: got %v, want io.EOF", err)
	}
}

func TestEmptyStream(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	_, err := r.Read()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Read on empty stream: got %v, want io.EOF", err)
	}
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

func TestOtherReadErrorIsDecodeFailure(t *testing.T) {
	// A read error that isn't a clean EOF should surface as a decode
	// failure, not be swallowed as end-of-stream.
	buf := Encode(nil, Event{Kind: KindAlloc})
	chained := io.MultiReader(bytes.NewReader(buf[:Size-1]), errReader{})
	r := NewReader(chained)
	_, err := r.Read()
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Read: got %v, want ErrDecode", err)
	}
}
