package vector

// DefaultSize is the default maximum number of rows in a RowBatch.
const DefaultSize = 1024

// RowBatch is a fixed-capacity set of column vectors sharing one row count.
type RowBatch struct {
	Cols      []ColumnVector
	Size      int
	MaxSize   int
	EndOfFile bool
}

// NewRowBatch creates a batch over cols, growing each to maxSize slots.
func NewRowBatch(maxSize int, cols ...ColumnVector) *RowBatch {
	if maxSize <= 0 {
		maxSize = DefaultSize
	}
	for _, c := range cols {
		c.Ensure(maxSize)
	}
	return &RowBatch{Cols: cols, MaxSize: maxSize}
}

// NumCols returns the number of columns.
func (b *RowBatch) NumCols() int { return len(b.Cols) }

// IsEmpty reports whether the batch holds no rows.
func (b *RowBatch) IsEmpty() bool { return b.Size == 0 }

// IsFull reports whether the batch reached MaxSize.
func (b *RowBatch) IsFull() bool { return b.Size >= b.MaxSize }

// Remaining returns the number of free row slots.
func (b *RowBatch) Remaining() int { return b.MaxSize - b.Size }

// Reset empties the batch for reuse.
func (b *RowBatch) Reset() {
	b.Size = 0
	b.EndOfFile = false
	for _, c := range b.Cols {
		c.Reset()
	}
}

// Ensure grows every column and MaxSize to at least size rows.
func (b *RowBatch) Ensure(size int) {
	if size <= b.MaxSize {
		return
	}
	for _, c := range b.Cols {
		c.Ensure(size)
	}
	b.MaxSize = size
}

// AppendRows copies n rows of src starting at srcOff to the end of b. Both
// batches must have the same column layout; b grows when needed.
func (b *RowBatch) AppendRows(src *RowBatch, srcOff, n int) error {
	if b.Size+n > b.MaxSize {
		b.Ensure(b.Size + n)
	}
	for i, c := range b.Cols {
		if err := CopyRows(c, b.Size, src.Cols[i], srcOff, n); err != nil {
			return err
		}
	}
	b.Size += n
	return nil
}
