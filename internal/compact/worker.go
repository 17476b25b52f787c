package compact

import (
	"sync"
	"time"

	"github.com/gholt/redistore/internal/codec"
	"github.com/gholt/redistore/internal/store"
)

// Op identifies a background compaction task.
type Op int

const (
	// OpCleanAll runs range compaction across every CF of a type.
	OpCleanAll Op = iota
	// OpCompactKey runs range compaction over one user key's
	// (key_len|key|*) prefix across every CF of a type.
	OpCompactKey
)

// Task is one unit of work consumed by the Worker.
type Task struct {
	Op  Op
	Key []byte // only meaningful for OpCompactKey
}

// Target is whatever the worker compacts against: the per-type set of CFs
// plus a meta lookup, supplied by the façade (one Target per engine).
type Target struct {
	DB         *store.DB
	DataTags   []codec.CFTag // e.g. {CFData} for hash/list, {CFMember} for set, {CFData, CFScore} for zset
	LookupMeta func(userKey []byte) (codec.MetaValue, bool, error)
}

// Worker consumes a bounded queue of Tasks for a single Target, running
// clean-all/compact-key jobs on one goroutine. Nowf lets tests substitute
// a fixed clock; production callers leave it nil and get time.Now().Unix().
type Worker struct {
	target Target
	tasks  chan Task
	done   chan struct{}
	wg     sync.WaitGroup
	Nowf   func() int64
}

// NewWorker creates a Worker with the given task queue capacity and starts
// its consumer goroutine.
func NewWorker(target Target, queueCapacity int) *Worker {
	w := &Worker{
		target: target,
		tasks:  make(chan Task, queueCapacity),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Enqueue submits a task without blocking indefinitely if the queue is
// full; a full queue silently drops the task, since these are all
// best-effort background housekeeping jobs and a dropped compaction just
// means the next one (or the next SAdd/SPop that bumps the per-key access
// counter past small_compaction_threshold) picks up the slack.
func (w *Worker) Enqueue(t Task) {
	select {
	case w.tasks <- t:
	default:
	}
}

// Shutdown causes the worker to drain its queue and exit, then blocks
// until it has.
func (w *Worker) Shutdown() {
	close(w.tasks)
	w.wg.Wait()
}

func (w *Worker) now() int64 {
	if w.Nowf != nil {
		return w.Nowf()
	}
	return time.Now().Unix()
}

func (w *Worker) run() {
	defer w.wg.Done()
	for t := range w.tasks {
		switch t.Op {
		case OpCleanAll:
			w.cleanAll()
		case OpCompactKey:
			w.compactKey(t.Key)
		}
	}
}

func (w *Worker) cleanAll() {
	now := w.now()
	_, _ = SweepMeta(w.target.DB, nil, nil, now)
	for _, tag := range w.target.DataTags {
		// Unbounded: SweepData skips other tags itself, and a one-byte
		// bound key cannot be parsed by the list/zset comparators.
		_, _ = SweepData(w.target.DB, tag, nil, nil, w.target.LookupMeta, now)
	}
	_ = w.target.DB.CompactRange(nil, nil)
}

func (w *Worker) compactKey(key []byte) {
	now := w.now()
	metaStart := codec.EncodeMetaKey(nil, key)
	metaEnd := codec.PrefixUpperBound(metaStart)
	_, _ = SweepMeta(w.target.DB, metaStart, metaEnd, now)
	for _, tag := range w.target.DataTags {
		prefix := codec.EncodeKeyOnlyPrefix(nil, tag, key)
		end := codec.PrefixUpperBound(prefix)
		_, _ = SweepData(w.target.DB, tag, prefix, end, w.target.LookupMeta, now)
		_ = w.target.DB.CompactRange(prefix, end)
	}
	_ = w.target.DB.CompactRange(metaStart, metaEnd)
}
