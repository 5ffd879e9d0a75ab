package crawler

// PartitionBounds splits n items into at most workers contiguous
// [start, end) ranges. Every item lands in exactly one range, ranges keep
// the input order, and sizes differ by at most one. Fewer items than
// workers yields one range per item.
func PartitionBounds(n, workers int) [][2]int {
	if n <= 0 || workers <= 0 {
		return nil
	}
	if workers > n {
		workers = n
	}

	bounds := make([][2]int, 0, workers)
	chunk := n / workers
	rem := n % workers

	start := 0
	for i := 0; i < workers; i++ {
		size := chunk
		if i < rem {
			size++
		}
		bounds = append(bounds, [2]int{start, start + size})
		start += size
	}
	return bounds
}
