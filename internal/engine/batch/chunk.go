package batch

import "fmt"

// Chunk splits items into ordered, non-overlapping slices of at most size
// elements. The concatenation of the result equals items. The returned slices
// share the backing array of items and must not be appended to.
func Chunk[T any](items []T, size int) ([][]T, error) {
	if size < MinBatchSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, size)
	}

	bounds := CalculateBatches(len(items), size)
	chunks := make([][]T, len(bounds))
	for i, b := range bounds {
		chunks[i] = items[b[0]:b[1]:b[1]]
	}
	return chunks, nil
}

// CalculateBatches returns the batch boundaries for totalItems items.
// Returns a slice of [start, end) index pairs.
func CalculateBatches(totalItems, batchSize int) [][2]int {
	totalBatches := TotalBatches(totalItems, batchSize)
	batches := make([][2]int, totalBatches)

	for i := range totalBatches {
		start := i * batchSize
		end := min(start+batchSize, totalItems)
		batches[i] = [2]int{start, end}
	}

	return batches
}

// TotalBatches returns ⌈totalItems/batchSize⌉, or 0 when either argument is
// not positive.
func TotalBatches(totalItems, batchSize int) int {
	if totalItems <= 0 || batchSize <= 0 {
		return 0
	}
	batches := totalItems / batchSize
	if totalItems%batchSize > 0 {
		batches++
	}
	return batches
}
