package stage

import (
	"sync"

	"github.com/biogo/hts/sam"
)

// Queue is a bounded, blocking, multi-producer/single-consumer FIFO of
// records. Push blocks cooperatively once the queue holds capacity records
// (spec.md §4.1's backpressure knob); Pop blocks until a record is
// available or every registered producer has called producerDone and the
// queue has drained, at which point it returns ok=false (the runtime's
// end-of-stream sentinel). addProducer/producerDone may be called from
// different goroutines (fan-in from several upstream stages finishing
// around the same time), so the producer/finished counters are guarded by
// mu.
type Queue struct {
	ch chan *sam.Record

	mu        sync.Mutex
	producers int
	finished  int
}

// NewQueue constructs a Queue with the given soft capacity bound.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		ch: make(chan *sam.Record, capacity),
	}
}

// addProducer registers one more upstream producer that must call
// producerDone before the queue can report end-of-stream.
func (q *Queue) addProducer() {
	q.mu.Lock()
	q.producers++
	q.mu.Unlock()
}

// closeNoProducers marks a source queue (one with no upstream producers,
// e.g. a reader stage) as immediately eligible for end-of-stream once
// drained.
func (q *Queue) closeNoProducers() {
	close(q.ch)
}

// producerDone records that one producer has finished. Once every
// registered producer has finished, the channel is closed so Pop can drain
// remaining buffered records and then report end-of-stream.
func (q *Queue) producerDone() {
	q.mu.Lock()
	q.finished++
	done := q.finished >= q.producers
	q.mu.Unlock()
	if done {
		close(q.ch)
	}
}

// Push blocks until there is room in the queue.
func (q *Queue) Push(r *sam.Record) {
	q.ch <- r
}

// Pop blocks until a record is available, or returns ok=false once the
// queue is closed and drained.
func (q *Queue) Pop() (r *sam.Record, ok bool) {
	r, ok = <-q.ch
	return r, ok
}

// Len reports the number of records currently buffered, for backpressure
// tests that assert the bound is never exceeded by more than one record.
func (q *Queue) Len() int {
	return len(q.ch)
}
