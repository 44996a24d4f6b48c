// Package stage implements the streaming pipeline runtime: a directed
// acyclic graph of stages connected by bounded queues, each stage running on
// its own goroutine, reader/writer/filter/split/sorted-merge stages built on
// top of it, and the external sorter.
package stage

import (
	"context"

	"github.com/biogo/hts/sam"
)

// DefaultQueueCapacity is the soft upper bound on records buffered on a
// single inter-stage edge (spec.md §4.1's "design default 6,000 records").
const DefaultQueueCapacity = 6000

// Stage is one node of the pipeline graph. Concrete stages embed Base, which
// supplies the bounded queue, fan-out, and EOS bookkeeping, and implement
// only their own per-record transform inside Run.
type Stage interface {
	// Run pulls records from the stage's input queue (via Base.Get) until
	// upstream end-of-stream, transforms them, and pushes results to sinks
	// (via Base.PutOutput). It returns when the stage has finished.
	Run(ctx context.Context) error

	// AddSink wires s as a consumer of this stage's output. Must be called
	// before Run.
	AddSink(s Stage)

	// Sinks returns the stages this stage feeds, in add order.
	Sinks() []Stage

	// Put pushes a record into this stage's own input queue. Used by an
	// upstream stage's PutOutput to hand off a record across an edge.
	Put(r *sam.Record)

	// Finish is called once per producer when that producer's Run has
	// returned, so the stage's queue knows when it has seen the last input.
	// Callers that hand-wire a chain outside Graph.Run (e.g. a test feeding
	// a stage directly) must call Finish on every sink once their own
	// production is done, exactly as Graph.Run does after a spawned stage's
	// Run returns.
	Finish()

	// addUpstream registers one producer that will eventually call Finish,
	// so the queue knows how many completions to await.
	addUpstream()
}

// Base is an embeddable implementation of the bookkeeping every Stage needs:
// the bounded input queue, producer-count-aware EOS detection, and fan-out
// with deep-clone-on-copy to sinks after the first. It factors the
// goroutine-and-channel boilerplate the teacher repeats in each algorithm's
// worker pool into one reusable piece.
type Base struct {
	queue    *Queue
	sinks    []Stage
	inCount  int64
	outCount int64
}

// NewBase constructs a Base with the default queue capacity.
func NewBase() *Base {
	return &Base{queue: NewQueue(DefaultQueueCapacity)}
}

// NewBaseCapacity constructs a Base with an explicit queue capacity, for
// tests that want to observe backpressure at a small bound.
func NewBaseCapacity(capacity int) *Base {
	return &Base{queue: NewQueue(capacity)}
}

func (b *Base) AddSink(s Stage) {
	b.sinks = append(b.sinks, s)
	s.addUpstream()
}

func (b *Base) Sinks() []Stage { return b.sinks }

func (b *Base) addUpstream() { b.queue.addProducer() }

func (b *Base) Finish() { b.queue.producerDone() }

// Put pushes a record into this stage's own input queue. An upstream stage's
// PutOutput calls this on each of its sinks; tests feeding a stage by hand
// call it directly. A stage pushes its own results with PutOutput instead.
func (b *Base) Put(r *sam.Record) {
	b.queue.Push(r)
	b.inCount++
}

// Get blocks until a record is available or every upstream producer has
// finished and the queue is drained, in which case it returns ok=false.
func (b *Base) Get() (r *sam.Record, ok bool) {
	return b.queue.Pop()
}

// Close marks this stage as having no more input, for stages (readers) that
// have no upstream producer calling Finish for them.
func (b *Base) Close() { b.queue.closeNoProducers() }

// PutOutput fans a record out to sinks: the first sink receives r itself, in
// producer order; every other sink receives a deep clone, so that no sink
// ever observes another's mutations. A stage with no sinks releases r.
func (b *Base) PutOutput(r *sam.Record) {
	if len(b.sinks) == 0 {
		return
	}
	b.outCount++
	b.sinks[0].Put(r)
	for _, s := range b.sinks[1:] {
		s.Put(cloneRecord(r))
	}
}

// InCount and OutCount report this stage's conservation counters: every
// record pulled in must eventually be accounted for as pushed out or
// dropped, per spec.md §8's conservation property.
func (b *Base) InCount() int64  { return b.inCount }
func (b *Base) OutCount() int64 { return b.outCount }

// cloneRecord deep-copies r so that fan-out sinks beyond the first never
// alias each other's mutable state (flags, aux tags).
func cloneRecord(r *sam.Record) *sam.Record {
	c := *r
	if r.Cigar != nil {
		c.Cigar = append(sam.Cigar(nil), r.Cigar...)
	}
	if r.Seq.Seq != nil {
		seq := append([]sam.Doublet(nil), r.Seq.Seq...)
		c.Seq = sam.Seq{Length: r.Seq.Length, Seq: seq}
	}
	if r.Qual != nil {
		c.Qual = append([]byte(nil), r.Qual...)
	}
	if r.AuxFields != nil {
		aux := make([]sam.Aux, len(r.AuxFields))
		for i, a := range r.AuxFields {
			aux[i] = append(sam.Aux(nil), a...)
		}
		c.AuxFields = aux
	}
	return &c
}
