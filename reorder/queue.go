// Package reorder implements a bounded queue of byte buffers ordered by
// presentation timestamp. Container demuxers emit some payloads (SEI
// messages, out-of-order samples) in decode order; feeding them through a
// Queue re-sequences them into presentation order before they reach
// consumers that are order-sensitive.
package reorder

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/zsiec/reseq/parse"
)

// TimeUnset marks a buffer with no usable presentation timestamp. Buffers
// added with this value bypass the queue and are emitted immediately.
const TimeUnset int64 = math.MinInt64 + 1

// SizeUnset means the queue has no maximum size: nothing is emitted until
// Flush is called.
const SizeUnset = -1

// OutputConsumer handles a buffer that is being removed from the queue.
// The buffer is only valid for the duration of the call; the queue reuses
// it immediately afterwards. Implementations that keep the data must copy.
//
// Consumers must not call back into the Queue. Like the Queue itself, the
// callback runs synchronously on the caller's goroutine.
type OutputConsumer func(presentationTime int64, buf *parse.Buffer)

// Queue buffers timestamped payloads and emits them least-timestamp-first,
// either when a configured maximum size is exceeded during Add or on an
// explicit Flush.
//
// Size is counted in distinct presentation timestamps, not buffers: any run
// of consecutively added buffers sharing one timestamp occupies a single
// slot. This lets H.264's max_num_reorder_frames bound the queue even when
// several SEI messages share a sample's timestamp.
//
// A Queue is not safe for concurrent use.
type Queue struct {
	output OutputConsumer

	// Free-lists of previously used objects, kept to avoid reallocating on
	// the per-sample hot path.
	spareBuffers []*parse.Buffer
	spareGroups  []*group

	pending groupHeap
	maxSize int

	// lastQueued is the group most recently inserted or appended to. Checked
	// before heap insertion so consecutive adds with equal timestamps merge
	// in O(1). Non-consecutive equal timestamps become separate groups.
	lastQueued *group
	nextSeq    uint64
}

// group holds the buffers sharing one presentation timestamp, in arrival
// order. seq is the insertion sequence number, used as a stable tie-break
// between groups with equal timestamps.
type group struct {
	presentationTime int64
	buffers          []*parse.Buffer
	seq              uint64
}

func (g *group) init(presentationTime int64, buf *parse.Buffer, seq uint64) {
	if presentationTime == TimeUnset {
		panic("reorder: group created with unset timestamp")
	}
	if len(g.buffers) != 0 {
		panic("reorder: init on non-empty group")
	}
	g.presentationTime = presentationTime
	g.buffers = append(g.buffers, buf)
	g.seq = seq
}

// New creates a Queue with no maximum size. Buffers removed from the queue —
// by exceeding the max size during Add, or by Flush — are passed to output.
func New(output OutputConsumer) *Queue {
	return &Queue{
		output:  output,
		maxSize: SizeUnset,
	}
}

// SetMaxSize sets the maximum number of distinct presentation timestamps the
// queue may hold. If the queue currently holds more, groups are emitted from
// the least-timestamp end until it fits. Negative sizes other than SizeUnset
// are a programming error and panic.
func (q *Queue) SetMaxSize(size int) {
	if size < 0 {
		panic(fmt.Sprintf("reorder: negative max size %d", size))
	}
	q.maxSize = size
	q.emitDownToSize(size)
}

// MaxSize returns the configured maximum size, or SizeUnset if unbounded.
func (q *Queue) MaxSize() int {
	return q.maxSize
}

// Add inserts a buffer with the given presentation timestamp.
//
// The readable region of buf (position..limit) is copied, so the caller may
// reuse buf after Add returns — except when the entry cannot be queued at
// all (unset timestamp, max size zero, or timestamp below the current
// minimum of an already-full queue): then buf itself is handed to the
// OutputConsumer synchronously, with no copy.
//
// Buffers with matching timestamps must be added consecutively to share a
// queue slot; this happens naturally when parsing samples from a container.
func (q *Queue) Add(presentationTime int64, buf *parse.Buffer) {
	if presentationTime == TimeUnset ||
		q.maxSize == 0 ||
		(q.maxSize != SizeUnset && q.pending.Len() >= q.maxSize &&
			presentationTime < q.pending.groups[0].presentationTime) {
		q.output(presentationTime, buf)
		return
	}

	bufCopy := q.copyBuffer(buf)
	if q.lastQueued != nil && q.lastQueued.presentationTime == presentationTime {
		q.lastQueued.buffers = append(q.lastQueued.buffers, bufCopy)
		return
	}

	var g *group
	if n := len(q.spareGroups); n > 0 {
		g = q.spareGroups[n-1]
		q.spareGroups = q.spareGroups[:n-1]
	} else {
		g = &group{}
	}
	g.init(presentationTime, bufCopy, q.nextSeq)
	q.nextSeq++

	heap.Push(&q.pending, g)
	q.lastQueued = g

	if q.maxSize != SizeUnset {
		q.emitDownToSize(q.maxSize)
	}
}

// copyBuffer copies the readable region of input into a Buffer from the
// free-list, or a fresh one if the list is empty. The input's position and
// limit are left untouched.
func (q *Queue) copyBuffer(input *parse.Buffer) *parse.Buffer {
	var result *parse.Buffer
	if n := len(q.spareBuffers); n > 0 {
		result = q.spareBuffers[n-1]
		q.spareBuffers = q.spareBuffers[:n-1]
	} else {
		result = parse.NewBuffer()
	}
	result.Reset(input.BytesLeft())
	copy(result.Data(), input.Data()[input.Position():input.Limit()])
	return result
}

// Clear empties the queue, discarding all buffered entries without invoking
// the OutputConsumer. Discarded buffers and groups return to the free-lists.
func (q *Queue) Clear() {
	for _, g := range q.pending.groups {
		q.spareBuffers = append(q.spareBuffers, g.buffers...)
		g.buffers = g.buffers[:0]
		q.spareGroups = append(q.spareGroups, g)
	}
	q.pending.groups = q.pending.groups[:0]
	q.lastQueued = nil
}

// Flush empties the queue, passing every buffered entry (least timestamp
// first) to the OutputConsumer.
func (q *Queue) Flush() {
	q.emitDownToSize(0)
}

func (q *Queue) emitDownToSize(target int) {
	for q.pending.Len() > target {
		g := heap.Pop(&q.pending).(*group)
		for _, buf := range g.buffers {
			q.output(g.presentationTime, buf)
			q.spareBuffers = append(q.spareBuffers, buf)
		}
		g.buffers = g.buffers[:0]
		if q.lastQueued == g {
			q.lastQueued = nil
		}
		q.spareGroups = append(q.spareGroups, g)
	}
}

// groupHeap is a min-heap of groups ordered by presentation timestamp, with
// insertion sequence as a stable tie-break for equal timestamps.
type groupHeap struct {
	groups []*group
}

func (h *groupHeap) Len() int { return len(h.groups) }

func (h *groupHeap) Less(i, j int) bool {
	a, b := h.groups[i], h.groups[j]
	if a.presentationTime != b.presentationTime {
		return a.presentationTime < b.presentationTime
	}
	return a.seq < b.seq
}

func (h *groupHeap) Swap(i, j int) {
	h.groups[i], h.groups[j] = h.groups[j], h.groups[i]
}

func (h *groupHeap) Push(x any) {
	h.groups = append(h.groups, x.(*group))
}

func (h *groupHeap) Pop() any {
	old := h.groups
	n := len(old) - 1
	g := old[n]
	old[n] = nil
	h.groups = old[:n]
	return g
}
