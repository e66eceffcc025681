// Package historical implements the per-chain historical syncer of
// spec.md §4.E: plans required block ranges from the interval ledger,
// schedules priority-ordered fetch tasks, and applies an enqueue-block
// policy: a block's BlockTask is enqueued as soon as the first callback
// for it is registered, without waiting for the other filters' progress.
// A callback registered after that BlockTask ran gets a BlockTask of its
// own, which reuses the cached block.
package historical

import (
	"container/heap"

	"github.com/chainsync/syncer/internal/chain"
	"github.com/chainsync/syncer/internal/filter"
)

// TaskKind distinguishes the four task shapes of spec.md §4.E.
type TaskKind int

const (
	KindLogFilterTask TaskKind = iota
	KindFactoryContractTask
	KindChildContractTask
	KindBlockTask
)

// BlockCallback is registered against a specific block number and run once
// that block's BlockTask resolves, per the enqueue-block policy.
type BlockCallback func(b chain.Block) error

// Task is a unit of historical work. Smaller FromBlock means higher
// priority (spec.md §4.E: "smaller fromBlock has higher priority").
type Task struct {
	Kind TaskKind

	// LogFilterTask / FactoryContractTask / ChildContractTask
	SourceIndex int
	Filter      filter.Filter // the source's filter (LogFilterTask, FactoryContractTask, ChildContractTask)
	FactoryID   string        // FactoryContractTask, ChildContractTask
	Addresses   []string      // ChildContractTask's batch of known child addresses
	FromBlock   uint64
	ToBlock     uint64

	// BlockTask
	BlockNumber uint64
	Callbacks   []BlockCallback

	attempts int
}

// taskQueue is a min-heap over Task.FromBlock, breaking ties by kind so
// BlockTasks (which unblock downstream work) drain before same-priority
// range tasks.
type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }
func (q taskQueue) Less(i, j int) bool {
	if q[i].priority() != q[j].priority() {
		return q[i].priority() < q[j].priority()
	}
	return q[i].Kind == KindBlockTask && q[j].Kind != KindBlockTask
}
func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *taskQueue) Push(x interface{}) {
	*q = append(*q, x.(*Task))
}
func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

func (t *Task) priority() uint64 {
	if t.Kind == KindBlockTask {
		return t.BlockNumber
	}
	return t.FromBlock
}

// PriorityQueue wraps container/heap with a friendlier API.
type PriorityQueue struct {
	heap taskQueue
}

// NewPriorityQueue returns an empty priority queue.
func NewPriorityQueue() *PriorityQueue {
	pq := &PriorityQueue{}
	heap.Init(&pq.heap)
	return pq
}

// Enqueue adds a task, ordered by priority() ascending.
func (pq *PriorityQueue) Enqueue(t *Task) {
	heap.Push(&pq.heap, t)
}

// Dequeue removes and returns the highest-priority (lowest FromBlock) task.
// Returns (nil, false) when empty.
func (pq *PriorityQueue) Dequeue() (*Task, bool) {
	if pq.heap.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&pq.heap).(*Task), true
}

// Len returns the number of queued tasks.
func (pq *PriorityQueue) Len() int { return pq.heap.Len() }
