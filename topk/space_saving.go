// Package topk implements the Space-Saving heavy-hitter algorithm over a
// stream-summary structure.
//
// Guarantees, for every entry reported by Top or Summary:
//
//	Count - Error <= true frequency <= Count
//
// and for every key that is not tracked, its true frequency is at most Floor().
// Floor is zero until the first eviction. Merging keeps both bounds sound by
// carrying the other summary's floor into keys it does not track.
//
// A SpaceSaving is not safe for concurrent use; each shard owns its own.
package topk

import (
	"cmp"
	"slices"
)

// Entry is one reported key
type Entry[K comparable] struct {
	Key   K
	Count uint64
	Error uint64
}

// Summary is a detached copy of an estimator's heaviest entries.
// Floor bounds the true count of every key not listed in Entries.
type Summary[K comparable] struct {
	Entries []Entry[K]
	Floor   uint64
}

type node[K comparable] struct {
	key        K
	err        uint64
	bucket     *bucket[K]
	prev, next *node[K]
}

// bucket groups all nodes sharing one count. Buckets form a list ordered by
// ascending count; low is the eviction end.
type bucket[K comparable] struct {
	count      uint64
	head, tail *node[K]
	prev, next *bucket[K]
}

// SpaceSaving tracks at most capacity keys.
type SpaceSaving[K comparable] struct {
	capacity int
	cmp      func(a, b K) int
	nodes    map[K]*node[K]
	low      *bucket[K]
	high     *bucket[K]
	free     *bucket[K]
	floor    uint64
}

// New creates an estimator tracking at most capacity keys. cmp breaks count
// ties so identical input streams always produce identical results.
// A capacity below one is raised to one.
func New[K comparable](capacity int, cmp func(a, b K) int) *SpaceSaving[K] {
	if capacity < 1 {
		capacity = 1
	}
	return &SpaceSaving[K]{
		capacity: capacity,
		cmp:      cmp,
		nodes:    make(map[K]*node[K], capacity),
	}
}

// NewOrdered creates an estimator for naturally ordered keys
func NewOrdered[K cmp.Ordered](capacity int) *SpaceSaving[K] {
	return New[K](capacity, cmp.Compare[K])
}

// Capacity returns the maximum number of tracked keys
func (s *SpaceSaving[K]) Capacity() int {
	return s.capacity
}

// Len returns the number of tracked keys
func (s *SpaceSaving[K]) Len() int {
	return len(s.nodes)
}

// Floor returns the upper bound on the true count of any untracked key
func (s *SpaceSaving[K]) Floor() uint64 {
	return s.floor
}

// Record counts one occurrence of key
func (s *SpaceSaving[K]) Record(key K) {
	s.Add(key, 1)
}

// Add counts weight occurrences of key
func (s *SpaceSaving[K]) Add(key K, weight uint64) {
	if weight == 0 {
		return
	}

	if n, ok := s.nodes[key]; ok {
		s.moveTo(n, n.bucket.count+weight)
		return
	}

	if len(s.nodes) < s.capacity {
		n := &node[K]{key: key}
		s.nodes[key] = n
		s.place(n, weight)
		return
	}

	// Full: the new key takes over the least counted slot and inherits its count
	// as over-estimation.
	victim := s.low.head
	base := max(s.low.count, s.floor)
	s.floor = max(s.floor, s.low.count)

	delete(s.nodes, victim.key)
	victim.key = key
	victim.err = base
	s.nodes[key] = victim

	if base+weight == victim.bucket.count {
		return
	}
	s.moveTo(victim, base+weight)
}

// Count returns the tracked entry for key
func (s *SpaceSaving[K]) Count(key K) (Entry[K], bool) {
	n, ok := s.nodes[key]
	if !ok {
		return Entry[K]{}, false
	}
	return Entry[K]{Key: key, Count: n.bucket.count, Error: n.err}, true
}

// Top returns up to n entries by descending count, ties ordered by key.
// A negative n returns every tracked entry.
func (s *SpaceSaving[K]) Top(n int) []Entry[K] {
	if n < 0 || n > len(s.nodes) {
		n = len(s.nodes)
	}
	out := make([]Entry[K], 0, n)

	for b := s.high; b != nil && len(out) < n; b = b.prev {
		start := len(out)
		for nd := b.head; nd != nil; nd = nd.next {
			out = append(out, Entry[K]{Key: nd.key, Count: b.count, Error: nd.err})
		}
		slices.SortFunc(out[start:], func(x, y Entry[K]) int { return s.cmp(x.Key, y.Key) })
	}

	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Summary returns a detached copy of the n heaviest entries (all when n < 0).
// Its floor also covers tracked keys that were cut off.
func (s *SpaceSaving[K]) Summary(n int) Summary[K] {
	if n < 0 || n >= len(s.nodes) {
		return Summary[K]{Entries: s.Top(-1), Floor: s.floor}
	}

	entries := s.Top(n + 1)
	floor := max(s.floor, entries[n].Count)
	return Summary[K]{Entries: entries[:n], Floor: floor}
}

// FromSummary rebuilds an estimator from a summary. Duplicate keys are summed,
// which keeps both bounds valid.
func FromSummary[K comparable](capacity int, cmp func(a, b K) int, sum Summary[K]) *SpaceSaving[K] {
	s := New(capacity, cmp)

	merged := make(map[K]Entry[K], len(sum.Entries))
	for _, e := range sum.Entries {
		if prev, ok := merged[e.Key]; ok {
			e.Count += prev.Count
			e.Error += prev.Error
		}
		merged[e.Key] = e
	}

	entries := make([]Entry[K], 0, len(merged))
	for _, e := range merged {
		entries = append(entries, e)
	}
	s.rebuild(entries, sum.Floor)
	return s
}

// Merge folds other into s. Keys tracked on both sides add up. A key tracked
// on one side only also receives the other side's floor, both as count and as
// error, because it may have been seen there without being tracked. The
// capacity bound is then re-applied.
//
// Merging summaries of disjoint streams is an approximation: the resulting
// errors are valid but not tight.
func (s *SpaceSaving[K]) Merge(other *SpaceSaving[K]) {
	if other == nil || (other.Len() == 0 && other.floor == 0) {
		return
	}

	entries := make([]Entry[K], 0, len(s.nodes)+len(other.nodes))
	for key, n := range s.nodes {
		e := Entry[K]{Key: key, Count: n.bucket.count, Error: n.err}
		if o, ok := other.nodes[key]; ok {
			e.Count += o.bucket.count
			e.Error += o.err
		} else {
			e.Count += other.floor
			e.Error += other.floor
		}
		entries = append(entries, e)
	}
	for key, o := range other.nodes {
		if _, ok := s.nodes[key]; ok {
			continue
		}
		entries = append(entries, Entry[K]{
			Key:   key,
			Count: o.bucket.count + s.floor,
			Error: o.err + s.floor,
		})
	}

	s.rebuild(entries, s.floor+other.floor)
}

// rebuild replaces the contents with entries, keeping the heaviest capacity of them.
func (s *SpaceSaving[K]) rebuild(entries []Entry[K], floor uint64) {
	slices.SortFunc(entries, func(x, y Entry[K]) int {
		if c := cmp.Compare(y.Count, x.Count); c != 0 {
			return c
		}
		return s.cmp(x.Key, y.Key)
	})
	if len(entries) > s.capacity {
		floor = max(floor, entries[s.capacity].Count)
		entries = entries[:s.capacity]
	}

	for b := s.low; b != nil; {
		next := b.next
		s.releaseBucket(b)
		b = next
	}
	s.low, s.high = nil, nil
	clear(s.nodes)
	s.floor = floor

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Count == 0 {
			continue
		}
		n := &node[K]{key: e.Key, err: e.Error}
		s.nodes[e.Key] = n
		if s.high == nil || s.high.count != e.Count {
			s.insertBucketAfter(s.high, e.Count)
		}
		s.high.attach(n)
	}
}

// place links a fresh node into the bucket for count, creating it if needed.
func (s *SpaceSaving[K]) place(n *node[K], count uint64) {
	var prev *bucket[K]
	for b := s.low; b != nil && b.count <= count; b = b.next {
		prev = b
	}
	dst := prev
	if dst == nil || dst.count != count {
		dst = s.insertBucketAfter(prev, count)
	}
	dst.attach(n)
}

// moveTo raises a tracked node to count, which must exceed its current count.
func (s *SpaceSaving[K]) moveTo(n *node[K], count uint64) {
	src := n.bucket

	cur := src
	for cur.next != nil && cur.next.count < count {
		cur = cur.next
	}
	dst := cur.next
	if dst == nil || dst.count != count {
		dst = s.insertBucketAfter(cur, count)
	}

	src.detach(n)
	if src.head == nil {
		s.unlinkBucket(src)
	}
	dst.attach(n)
}

// insertBucketAfter links a new bucket after prev, or at the low end when prev is nil.
func (s *SpaceSaving[K]) insertBucketAfter(prev *bucket[K], count uint64) *bucket[K] {
	b := s.free
	if b != nil {
		s.free = b.next
		b.next = nil
	} else {
		b = &bucket[K]{}
	}
	b.count = count

	if prev == nil {
		b.next = s.low
		if s.low != nil {
			s.low.prev = b
		}
		s.low = b
	} else {
		b.prev = prev
		b.next = prev.next
		if prev.next != nil {
			prev.next.prev = b
		}
		prev.next = b
	}
	if b.next == nil {
		s.high = b
	}
	return b
}

func (s *SpaceSaving[K]) unlinkBucket(b *bucket[K]) {
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		s.low = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	} else {
		s.high = b.prev
	}
	s.releaseBucket(b)
}

func (s *SpaceSaving[K]) releaseBucket(b *bucket[K]) {
	*b = bucket[K]{next: s.free}
	s.free = b
}

func (b *bucket[K]) attach(n *node[K]) {
	n.bucket = b
	n.next = nil
	n.prev = b.tail
	if b.tail != nil {
		b.tail.next = n
	} else {
		b.head = n
	}
	b.tail = n
}

func (b *bucket[K]) detach(n *node[K]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		b.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		b.tail = n.prev
	}
	n.prev, n.next, n.bucket = nil, nil, nil
}
