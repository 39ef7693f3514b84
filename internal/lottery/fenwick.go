package lottery

// fenwick is a 1-indexed binary-indexed tree over non-negative integer
// weights, supporting O(log n) point update and "find the first index
// whose prefix sum exceeds a target" — the core primitive for weighted
// sampling without replacement (spec.md §4.2 step 5).
type fenwick struct {
	tree []int64
	n    int
}

func newFenwick(weights []int64) *fenwick {
	n := len(weights)
	f := &fenwick{tree: make([]int64, n+1), n: n}
	for i, w := range weights {
		f.add(i+1, w)
	}
	return f
}

func (f *fenwick) add(i int, delta int64) {
	for ; i <= f.n; i += i & (-i) {
		f.tree[i] += delta
	}
}

// update sets the delta applied at 0-indexed position idx (delta is
// typically negative, to remove a drawn participant's weight).
func (f *fenwick) update(idx int, delta int64) {
	f.add(idx+1, delta)
}

// total returns the current sum of all weights.
func (f *fenwick) total() int64 {
	var sum int64
	for i := f.n; i > 0; i -= i & (-i) {
		sum += f.tree[i]
	}
	return sum
}

// findFirstPrefixSumGreaterThan returns the 0-indexed position of the
// first element where the cumulative prefix sum exceeds target, in
// O(log n) via binary lifting over the BIT's internal structure.
func (f *fenwick) findFirstPrefixSumGreaterThan(target int64) int {
	pos := 0
	remaining := target
	logN := 1
	for (1 << logN) <= f.n {
		logN++
	}
	for pw := 1 << uint(logN); pw > 0; pw >>= 1 {
		next := pos + pw
		if next <= f.n && f.tree[next] <= remaining {
			pos = next
			remaining -= f.tree[next]
		}
	}
	return pos // pos is the last 1-indexed position whose prefix sum <= target, i.e. the 0-indexed first position whose prefix sum exceeds it
}
