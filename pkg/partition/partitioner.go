package partition

import (
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

// Output is a batch of rows that all belong to one partition.
type Output struct {
	Hash  int
	Batch *vector.RowBatch
}

// Partitioner splits incoming batches into per-partition batches of at most
// batchSize rows. Full batches are returned as soon as they fill; the rest are
// returned by Flush.
type Partitioner struct {
	fn        Func
	schema    *schema.TypeDescription
	batchSize int
	buffers   []*vector.RowBatch
}

// Option configures a Partitioner.
type Option func(*Partitioner)

// WithFunc replaces the default hash function.
func WithFunc(fn Func) Option {
	return func(p *Partitioner) { p.fn = fn }
}

// NewPartitioner creates a partitioner for batches laid out as the leaves of s.
func NewPartitioner(numPartitions, batchSize int, s *schema.TypeDescription, keyColumnIDs []int, opts ...Option) (*Partitioner, error) {
	if batchSize <= 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "batch size must be positive, got %d", batchSize)
	}
	leaves := len(s.Leaves())
	for _, id := range keyColumnIDs {
		if id < 0 || id >= leaves {
			return nil, errors.Newf(errors.ErrorTypeValidation, "key column %d outside %d columns", id, leaves)
		}
	}
	p := &Partitioner{schema: s, batchSize: batchSize}
	for _, opt := range opts {
		opt(p)
	}
	if p.fn == nil {
		fn, err := NewHashFunc(keyColumnIDs, numPartitions)
		if err != nil {
			return nil, err
		}
		p.fn = fn
	}
	p.buffers = make([]*vector.RowBatch, p.fn.NumPartitions())
	return p, nil
}

// NumPartitions returns the partition count.
func (p *Partitioner) NumPartitions() int { return len(p.buffers) }

// Partition routes every row of batch and returns the batches that filled.
func (p *Partitioner) Partition(batch *vector.RowBatch) ([]Output, error) {
	var full []Output
	for row := 0; row < batch.Size; row++ {
		h := p.fn.Partition(batch.Cols, row)
		if h < 0 || h >= len(p.buffers) {
			return nil, errors.Newf(errors.ErrorTypeInternal, "partition %d outside [0,%d)", h, len(p.buffers))
		}
		buf := p.buffers[h]
		if buf == nil {
			var err error
			if buf, err = p.schema.CreateRowBatch(p.batchSize); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeInternal, "allocate partition batch")
			}
			p.buffers[h] = buf
		}
		if err := buf.AppendRows(batch, row, 1); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSchemaMismatch, "append row to partition")
		}
		if buf.IsFull() {
			full = append(full, Output{Hash: h, Batch: buf})
			p.buffers[h] = nil
		}
	}
	return full, nil
}

// Flush returns the non-empty partial batches in partition order and resets
// the partitioner.
func (p *Partitioner) Flush() []Output {
	var tails []Output
	for h, buf := range p.buffers {
		if buf != nil && !buf.IsEmpty() {
			tails = append(tails, Output{Hash: h, Batch: buf})
		}
		p.buffers[h] = nil
	}
	return tails
}
