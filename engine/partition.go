package engine

// DefaultPartitionRows is the partition size used when none is configured.
const DefaultPartitionRows = 1 << 16

// Range is a half-open row interval [Start, End).
type Range struct {
	Start int
	End   int
}

// Len returns the number of rows in the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// Partitions splits rows into contiguous ranges of at most size rows.
// A non-positive size falls back to DefaultPartitionRows.
func Partitions(rows, size int) []Range {
	if rows <= 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultPartitionRows
	}

	out := make([]Range, 0, (rows+size-1)/size)
	for start := 0; start < rows; start += size {
		end := start + size
		if end > rows {
			end = rows
		}
		out = append(out, Range{Start: start, End: end})
	}
	return out
}
