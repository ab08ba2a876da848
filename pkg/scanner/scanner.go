// Package scanner filters and projects decoded row batches.
package scanner

import (
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/predicate"
	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

// Scanner evaluates a filter over batches laid out as the leaves of an input
// schema and keeps the projected columns of the selected rows.
type Scanner struct {
	input   *schema.TypeDescription
	output  *schema.TypeDescription
	project []int
	filter  *predicate.Bound
	sel     []int
}

// New creates a scanner. An empty projection keeps every column; a nil filter
// selects every row.
func New(input *schema.TypeDescription, projection []string, filter *predicate.Expr) (*Scanner, error) {
	leaves := input.Leaves()
	s := &Scanner{input: input}

	if len(projection) == 0 {
		for _, c := range leaves {
			s.project = append(s.project, c.ID)
		}
	}
	for _, name := range projection {
		id := input.LeafIndex(name)
		if id < 0 {
			return nil, errors.Newf(errors.ErrorTypeSchemaMismatch, "projected column %q does not exist", name)
		}
		s.project = append(s.project, id)
	}
	out := make([]schema.Column, len(s.project))
	for i, id := range s.project {
		out[i] = schema.Column{ID: i, Name: leaves[id].Name, Type: leaves[id].Type}
	}
	s.output = schema.FromLeaves(out)

	if filter != nil {
		b, err := predicate.Bind(filter, input)
		if err != nil {
			return nil, err
		}
		s.filter = b
	}
	return s, nil
}

// InputSchema describes the batches FilterAndProject accepts.
func (s *Scanner) InputSchema() *schema.TypeDescription { return s.input }

// OutputSchema describes the batches FilterAndProject returns.
func (s *Scanner) OutputSchema() *schema.TypeDescription { return s.output }

// Selection returns the rows of batch the filter selects, in order. The slice
// is reused by the next call.
func (s *Scanner) Selection(batch *vector.RowBatch) ([]int, error) {
	if len(batch.Cols) != len(s.input.Leaves()) {
		return nil, errors.Newf(errors.ErrorTypeSchemaMismatch, "batch has %d columns, scanner expects %d", len(batch.Cols), len(s.input.Leaves()))
	}
	s.sel = s.sel[:0]
	if s.filter == nil {
		for i := 0; i < batch.Size; i++ {
			s.sel = append(s.sel, i)
		}
		return s.sel, nil
	}
	s.sel = s.filter.Select(batch.Cols, batch.Size, s.sel)
	return s.sel, nil
}

// FilterAndProject returns a new batch with the projected columns of the
// selected rows, in their original order. EndOfFile carries over.
func (s *Scanner) FilterAndProject(batch *vector.RowBatch) (*vector.RowBatch, error) {
	sel, err := s.Selection(batch)
	if err != nil {
		return nil, err
	}
	out, err := s.output.CreateRowBatch(max(len(sel), 1))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "allocate output batch")
	}
	for i, id := range s.project {
		if err := copySelected(out.Cols[i], batch.Cols[id], sel); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "project column").WithDetail("column", id)
		}
	}
	out.Size = len(sel)
	out.EndOfFile = batch.EndOfFile
	return out, nil
}

// copySelected copies runs of consecutive selected rows in one call each.
func copySelected(dst, src vector.ColumnVector, sel []int) error {
	for i := 0; i < len(sel); {
		j := i + 1
		for j < len(sel) && sel[j] == sel[j-1]+1 {
			j++
		}
		if err := vector.CopyRows(dst, i, src, sel[i], j-i); err != nil {
			return err
		}
		i = j
	}
	return nil
}
