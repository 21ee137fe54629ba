package job

// splitBatches splits items into consecutive chunks of at most size
// elements. A size below one falls back to a single batch.
func splitBatches(items []WorkItem, size int) [][]WorkItem {
	if len(items) == 0 {
		return nil
	}
	if size < 1 {
		return [][]WorkItem{items}
	}

	batches := make([][]WorkItem, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}
