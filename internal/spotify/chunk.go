package spotify

// Chunk splits ids into contiguous groups of at most size elements,
// preserving order. The final group may be shorter. size <= 0 yields a
// single group containing the whole input; empty input yields nil.
func Chunk(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]string{ids}
	}

	out := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
