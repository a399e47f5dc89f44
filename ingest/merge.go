package ingest

import (
	"container/heap"
	"io"

	"github.com/aclements/hip/event"
)

// mergeItem is one stream's current head event, tracked by the merge
// heap so the next Pop always yields the globally lowest Seq.
type mergeItem struct {
	e event.Event
	r *event.Reader
}

// mergeHeap orders mergeItems by ascending Event.Seq, so a k-way merge
// over per-tracker streams always yields a single globally
// sequence-ordered stream.
type mergeHeap []*mergeItem

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return h[i].e.Seq < h[j].e.Seq }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*mergeItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Merger produces a single globally-seq-ordered stream of Events from
// a set of per-tracker event files via a k-way heap merge.
type Merger struct {
	h       mergeHeap
	closers []io.Closer
}

// NewMerger starts a k-way merge over readers, one per event file.
// On success the Merger takes ownership of closers and closes every
// one of them when the caller calls Close. On error NewMerger returns
// no Merger and closes none of them; the caller still owns closers.
func NewMerger(readers []*event.Reader, closers []io.Closer) (*Merger, error) {
	m := &Merger{closers: closers}
	for _, r := range readers {
		e, err := r.Read()
		if err == io.EOF {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.h = append(m.h, &mergeItem{e: e, r: r})
	}
	heap.Init(&m.h)
	return m, nil
}

// Next returns the next Event in global sequence order, or io.EOF once
// every stream is exhausted.
func (m *Merger) Next() (event.Event, error) {
	if m.h.Len() == 0 {
		return event.Event{}, io.EOF
	}
	item := heap.Pop(&m.h).(*mergeItem)
	out := item.e

	next, err := item.r.Read()
	switch err {
	case nil:
		item.e = next
		heap.Push(&m.h, item)
	case io.EOF:
		// stream exhausted, drop it from the heap
	default:
		return event.Event{}, err
	}
	return out, nil
}

// Close closes every underlying file, returning the first error.
func (m *Merger) Close() error {
	var firstErr error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
