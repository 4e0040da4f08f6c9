// Package batch splits item lists into per-session work.
package batch

// Plan returns how many items each session handles when total items are
// spread over at most maxSessions sessions. A job of at most batchSize items
// runs on one session; larger jobs use ceil(total/batchSize) sessions, capped
// at maxSessions. Counts sum to total and differ by at most one, with the
// larger counts first.
//
// Plan(0, …) returns an empty plan. maxSessions and batchSize below 1 are
// treated as 1.
func Plan(total, maxSessions, batchSize int) []int {
	if total <= 0 {
		return []int{}
	}
	maxSessions = max(maxSessions, 1)
	batchSize = max(batchSize, 1)

	if total <= batchSize {
		return []int{total}
	}

	required := (total + batchSize - 1) / batchSize
	sessions := min(required, maxSessions)
	return distribute(total, sessions)
}

// distribute splits total into n counts using the divmod rule.
func distribute(total, n int) []int {
	base, extra := total/n, total%n
	counts := make([]int, n)
	for i := range counts {
		counts[i] = base
		if i < extra {
			counts[i]++
		}
	}
	return counts
}

// Offsets returns the index of the first item of each count when the counts
// are laid out back to back.
func Offsets(counts []int) []int {
	offsets := make([]int, len(counts))
	next := 0
	for i, c := range counts {
		offsets[i] = next
		next += c
	}
	return offsets
}

// BalancedChunks partitions items into exactly n contiguous chunks whose
// sizes differ by at most one. When n exceeds len(items) the trailing chunks
// are empty. n below 1 is treated as 1. The chunks share items' backing
// array.
func BalancedChunks[T any](items []T, n int) [][]T {
	n = max(n, 1)
	counts := distribute(len(items), n)
	chunks := make([][]T, n)
	start := 0
	for i, c := range counts {
		chunks[i] = items[start : start+c : start+c]
		start += c
	}
	return chunks
}

// SubBatches groups items into consecutive slices of size items; the last
// group may be shorter. size below 1 is treated as 1.
func SubBatches[T any](items []T, size int) [][]T {
	size = max(size, 1)
	groups := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		groups = append(groups, items[start:end:end])
	}
	return groups
}
