package quota

import "sort"

// PackQueue orders a user's call packs oldest purchase first. Calls are
// drawn from the head until it is exhausted, then from the next pack.
type PackQueue struct {
	packs []*CallPack
}

// NewPackQueue builds a queue from packs in any order. Exhausted packs are
// kept out of the queue; ties on purchase time fall back to pack ID so the
// order is stable across reads.
func NewPackQueue(packs []*CallPack) *PackQueue {
	open := make([]*CallPack, 0, len(packs))
	for _, p := range packs {
		if p.CallsRemaining > 0 {
			open = append(open, p)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		if open[i].PurchasedAt.Equal(open[j].PurchasedAt) {
			return open[i].ID.String() < open[j].ID.String()
		}
		return open[i].PurchasedAt.Before(open[j].PurchasedAt)
	})
	return &PackQueue{packs: open}
}

// Head returns the oldest pack with calls left, or nil.
func (q *PackQueue) Head() *CallPack {
	if len(q.packs) == 0 {
		return nil
	}
	return q.packs[0]
}

// Available is the sum of remaining calls across the queue.
func (q *PackQueue) Available() int {
	total := 0
	for _, p := range q.packs {
		total += p.CallsRemaining
	}
	return total
}

// Take draws up to n calls FIFO and returns how many were taken along with
// the packs that were modified.
func (q *PackQueue) Take(n int) (int, []*CallPack) {
	taken := 0
	var touched []*CallPack
	for n > 0 && len(q.packs) > 0 {
		head := q.packs[0]
		draw := min(n, head.CallsRemaining)
		head.CallsRemaining -= draw
		taken += draw
		n -= draw
		touched = append(touched, head)
		if head.CallsRemaining == 0 {
			q.packs = q.packs[1:]
		}
	}
	return taken, touched
}
