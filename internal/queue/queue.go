// Package queue provides a bounded priority queue for capture event
// persistence. Chunk events are dropped first under backpressure so request,
// response and meta records survive bursts.
package queue

import (
	"container/heap"
	"sync"
	"time"
)

// Priority levels for capture events.
const (
	PriorityHigh   = "high"   // request, response, response_meta
	PriorityMedium = "medium" // structural chunk payloads
	PriorityLow    = "low"    // delta chunk payloads (drop first)
)

// priorityValue maps priority strings to numeric values for comparison.
var priorityValue = map[string]int{
	PriorityHigh:   3,
	PriorityMedium: 2,
	PriorityLow:    1,
}

// Item is one capture event awaiting persistence.
type Item struct {
	Record    any    // the record to serialize, one JSONL line
	Kind      string // record type discriminator
	RequestID string
	Priority  string
	Timestamp time.Time
	index     int // heap position
}

// Stats holds queue statistics.
type Stats struct {
	Size        int
	HighCount   int
	MediumCount int
	LowCount    int
	DropsTotal  uint64
	DropsLow    uint64
	DropsHigh   uint64
}

// Queue is a bounded priority queue with backpressure support.
type Queue struct {
	mu         sync.Mutex
	items      priorityHeap
	maxSize    int
	dropsTotal uint64
	dropsLow   uint64
	dropsHigh  uint64

	notifyCh chan struct{}
}

// New creates a bounded priority queue.
func New(maxSize int) *Queue {
	q := &Queue{
		items:    make(priorityHeap, 0, maxSize),
		maxSize:  maxSize,
		notifyCh: make(chan struct{}, 1),
	}
	heap.Init(&q.items)
	return q
}

// Push adds an item to the queue. When the queue is full, the lowest
// priority queued item that does not outrank the new one is evicted,
// oldest first within a priority; a new item that outranks nothing
// queued is dropped instead. Returns true when the new item was dropped.
func (q *Queue) Push(item *Item) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxSize {
		if q.evictForSpace(item) {
			return true
		}
	}

	heap.Push(&q.items, item)

	// Notify consumer
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}

	return false
}

// evictForSpace makes room by evicting the lowest, oldest queued item at
// or below the incoming item's priority. Returns true when no such item
// exists and the incoming item must be dropped instead.
func (q *Queue) evictForSpace(newItem *Item) bool {
	q.dropsTotal++

	evicted := q.evictLowest(newItem.Priority)
	if evicted == nil {
		if priorityValue[newItem.Priority] <= priorityValue[PriorityLow] {
			q.dropsLow++
		}
		return true
	}

	switch evicted.Priority {
	case PriorityLow:
		q.dropsLow++
	case PriorityHigh:
		q.dropsHigh++
	}
	return false
}

// evictLowest removes and returns the lowest priority item at or below
// maxPriority, oldest first within a priority. Returns nil when every
// queued item outranks maxPriority.
func (q *Queue) evictLowest(maxPriority string) *Item {
	maxPrio := priorityValue[maxPriority]

	lowestIdx := -1
	lowestPrio := 0
	var oldestTime time.Time

	for i, item := range q.items {
		itemPrio := priorityValue[item.Priority]
		if itemPrio > maxPrio {
			continue
		}
		if lowestIdx == -1 || itemPrio < lowestPrio ||
			(itemPrio == lowestPrio && item.Timestamp.Before(oldestTime)) {
			lowestIdx = i
			lowestPrio = itemPrio
			oldestTime = item.Timestamp
		}
	}

	if lowestIdx < 0 {
		return nil
	}
	return heap.Remove(&q.items, lowestIdx).(*Item)
}

// Pop removes and returns the highest priority item.
// Returns nil if the queue is empty.
func (q *Queue) Pop() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	return heap.Pop(&q.items).(*Item)
}

// PopBatch removes and returns up to n items.
func (q *Queue) PopBatch(n int) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.items) == 0 {
		return nil
	}

	count := n
	if count > len(q.items) {
		count = len(q.items)
	}

	result := make([]*Item, count)
	for i := 0; i < count; i++ {
		result[i] = heap.Pop(&q.items).(*Item)
	}

	return result
}

// Len returns the current queue size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		Size:       len(q.items),
		DropsTotal: q.dropsTotal,
		DropsLow:   q.dropsLow,
		DropsHigh:  q.dropsHigh,
	}

	for _, item := range q.items {
		switch item.Priority {
		case PriorityHigh:
			stats.HighCount++
		case PriorityMedium:
			stats.MediumCount++
		case PriorityLow:
			stats.LowCount++
		}
	}

	return stats
}

// NotifyCh returns a channel that receives a signal when items are added.
func (q *Queue) NotifyCh() <-chan struct{} {
	return q.notifyCh
}

// priorityHeap implements heap.Interface for the priority queue.
type priorityHeap []*Item

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	// Higher priority first
	pi := priorityValue[h[i].Priority]
	pj := priorityValue[h[j].Priority]
	if pi != pj {
		return pi > pj
	}
	// Same priority: older first
	return h[i].Timestamp.Before(h[j].Timestamp)
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	item := x.(*Item)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}
