package jobs

import (
	"container/heap"

	"github.com/KolosalAI/kolosal-agent/types"
)

// queueItem wraps a job with the sequence number that breaks enqueue-time
// ties deterministically.
type queueItem struct {
	job *types.Job
	seq uint64
}

// jobQueue is a max-priority heap ordered by (priority desc, enqueued_at asc,
// seq asc). It is not internally synchronized; the Manager's lock guards it.
type jobQueue []queueItem

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	if !a.job.EnqueuedAt.Equal(b.job.EnqueuedAt) {
		return a.job.EnqueuedAt.Before(b.job.EnqueuedAt)
	}
	return a.seq < b.seq
}

func (q jobQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *jobQueue) Push(x any) { *q = append(*q, x.(queueItem)) }

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = queueItem{}
	*q = old[:n-1]
	return item
}

// push adds a job to the heap.
func (q *jobQueue) push(job *types.Job, seq uint64) {
	heap.Push(q, queueItem{job: job, seq: seq})
}

// pop removes and returns the highest-priority job, or nil if empty.
func (q *jobQueue) pop() *types.Job {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(queueItem).job
}
