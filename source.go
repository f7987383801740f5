package airlift

import "io"

// Source is the interface for getting raw rows out of an external system one
// record at a time. Record returns io.EOF once the source is exhausted.
// Implementations own their underlying cursors and connections and should
// release them when returning io.EOF or a hard error. Sources are lazy; the
// pipeline pulls from them and applies backpressure, so an implementation
// should not pre-materialize its whole result set.
type Source interface {
	Record() (Row, error)
}

// SliceSource is an in-memory Source backed by a slice of rows. It is mostly
// useful in tests and small one-off integrations.
type SliceSource struct {
	rows []Row
	i    int
}

// NewSliceSource makes a SliceSource which will return each of the given rows
// in order.
func NewSliceSource(rows ...Row) *SliceSource {
	return &SliceSource{rows: rows}
}

// Record implements Source.
func (s *SliceSource) Record() (Row, error) {
	if s.i >= len(s.rows) {
		return nil, io.EOF
	}
	r := s.rows[s.i]
	s.i++
	return r, nil
}
