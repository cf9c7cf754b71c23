package rl

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Table encodings
const (
	EncodingSparse = "sparse"
	EncodingDense  = "dense"
)

// Shape is the state space and row width of a table
type Shape struct {
	NumBins    int `json:"num_bins"`
	NumSensors int `json:"num_sensors"`
	NumActions int `json:"num_actions"`
}

// MaxCells bounds the number of values a table may hold (512 MiB of float64)
const MaxCells = 1 << 26

func (s Shape) String() string {
	return fmt.Sprintf("(bins=%d, sensors=%d, actions=%d)", s.NumBins, s.NumSensors, s.NumActions)
}

// Validate checks that a table of this shape can be built: at least one
// bin, sensor and action, and no more than MaxCells values in total
func (s Shape) Validate() error {
	if s.NumBins < 1 || s.NumSensors < 1 || s.NumActions < 1 {
		return fmt.Errorf("shape %s needs at least one bin, sensor and action", s)
	}
	cells := s.NumActions
	for i := 0; i < s.NumSensors; i++ {
		if cells > MaxCells/s.NumBins {
			return fmt.Errorf("shape %s exceeds %d values", s, MaxCells)
		}
		cells *= s.NumBins
	}
	return nil
}

// Fill produces the initial value of a new Q-table entry
type Fill func() float64

// ZeroFill starts every entry at 0
func ZeroFill() float64 { return 0 }

// RandomFill starts entries uniformly in [0, 1)
func RandomFill(rng *rand.Rand) Fill {
	return rng.Float64
}

// Table maps states to one value per action
type Table interface {
	Shape() Shape
	Encoding() string
	// Row returns a copy of the values for s, creating the row if needed
	Row(s State) ([]float64, error)
	Set(s State, action int, value float64) error
	// SetRow replaces the values for s. Used when restoring a table
	SetRow(s State, row []float64) error
	// Len is the number of materialized rows
	Len() int
	// Range visits materialized rows in dense index order until fn returns false
	Range(fn func(s State, row []float64) bool)
}

// NewTable builds a fully populated table of the given encoding
func NewTable(encoding string, shape Shape, fill Fill) (Table, error) {
	switch encoding {
	case EncodingSparse:
		t, err := NewSparseTable(shape, fill)
		if err != nil {
			return nil, err
		}
		return t, t.Populate()
	case EncodingDense:
		return NewDenseTable(shape, fill)
	default:
		return nil, fmt.Errorf("unknown table encoding %q", encoding)
	}
}

// NewEmptyTable builds a table with no values set yet, ready to be restored into
func NewEmptyTable(encoding string, shape Shape) (Table, error) {
	switch encoding {
	case EncodingSparse:
		return NewSparseTable(shape, ZeroFill)
	case EncodingDense:
		return NewDenseTable(shape, ZeroFill)
	default:
		return nil, fmt.Errorf("unknown table encoding %q", encoding)
	}
}

// Convert copies every materialized row of t into a table of another
// encoding. Tables already in that encoding are returned as is
func Convert(t Table, encoding string) (Table, error) {
	if t.Encoding() == encoding {
		return t, nil
	}
	out, err := NewEmptyTable(encoding, t.Shape())
	if err != nil {
		return nil, err
	}
	var setErr error
	t.Range(func(s State, row []float64) bool {
		setErr = out.SetRow(s, row)
		return setErr == nil
	})
	if setErr != nil {
		return nil, setErr
	}
	return out, nil
}

// MaxValue is max_a Q[s][a]
func MaxValue(t Table, s State) (float64, error) {
	row, err := t.Row(s)
	if err != nil {
		return 0, err
	}
	return floats.Max(row), nil
}

// Greedy is the lowest index holding the row maximum
func Greedy(row []float64) int {
	return floats.MaxIdx(row)
}

func checkAction(shape Shape, action int) error {
	if action < 0 || action >= shape.NumActions {
		return fmt.Errorf("action index %d outside [0, %d)", action, shape.NumActions)
	}
	return nil
}

// SparseTable keeps rows in a map keyed by State.Key. Missing rows are
// created with the fill policy on first read
type SparseTable struct {
	shape Shape
	enc   *Encoder
	fill  Fill
	rows  map[string][]float64
}

// NewSparseTable returns an empty sparse table
func NewSparseTable(shape Shape, fill Fill) (*SparseTable, error) {
	enc, err := encoderFor(shape)
	if err != nil {
		return nil, err
	}
	if fill == nil {
		fill = ZeroFill
	}
	return &SparseTable{shape: shape, enc: enc, fill: fill, rows: make(map[string][]float64)}, nil
}

func encoderFor(shape Shape) (*Encoder, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return NewEncoder(shape.NumBins, shape.NumSensors)
}

// Populate creates every missing row in the state space
func (t *SparseTable) Populate() error {
	for i := 0; i < t.enc.Size(); i++ {
		s, err := t.enc.Decode(i)
		if err != nil {
			return err
		}
		t.row(s)
	}
	return nil
}

func (t *SparseTable) row(s State) []float64 {
	key := s.Key()
	r, ok := t.rows[key]
	if !ok {
		r = make([]float64, t.shape.NumActions)
		for i := range r {
			r[i] = t.fill()
		}
		t.rows[key] = r
	}
	return r
}

func (t *SparseTable) Shape() Shape     { return t.shape }
func (t *SparseTable) Encoding() string { return EncodingSparse }
func (t *SparseTable) Len() int         { return len(t.rows) }

func (t *SparseTable) Row(s State) ([]float64, error) {
	if err := t.enc.Check(s); err != nil {
		return nil, err
	}
	return append([]float64(nil), t.row(s)...), nil
}

func (t *SparseTable) Set(s State, action int, value float64) error {
	if err := t.enc.Check(s); err != nil {
		return err
	}
	if err := checkAction(t.shape, action); err != nil {
		return err
	}
	t.row(s)[action] = value
	return nil
}

func (t *SparseTable) SetRow(s State, row []float64) error {
	if err := t.enc.Check(s); err != nil {
		return err
	}
	if len(row) != t.shape.NumActions {
		return fmt.Errorf("row for %v has %d values, want %d", s, len(row), t.shape.NumActions)
	}
	t.rows[s.Key()] = append([]float64(nil), row...)
	return nil
}

func (t *SparseTable) Range(fn func(s State, row []float64) bool) {
	type entry struct {
		idx   int
		state State
		row   []float64
	}
	entries := make([]entry, 0, len(t.rows))
	for key, row := range t.rows {
		s, err := ParseStateKey(key)
		if err != nil {
			continue
		}
		idx, err := t.enc.Index(s)
		if err != nil {
			continue
		}
		entries = append(entries, entry{idx, s, row})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })
	for _, e := range entries {
		if !fn(e.state, append([]float64(nil), e.row...)) {
			return
		}
	}
}

// DenseTable stores every row contiguously, indexed by the mixed-radix
// state index
type DenseTable struct {
	shape  Shape
	enc    *Encoder
	values []float64
}

// NewDenseTable allocates and fills the whole state space
func NewDenseTable(shape Shape, fill Fill) (*DenseTable, error) {
	enc, err := encoderFor(shape)
	if err != nil {
		return nil, err
	}
	if fill == nil {
		fill = ZeroFill
	}
	values := make([]float64, enc.Size()*shape.NumActions)
	for i := range values {
		values[i] = fill()
	}
	return &DenseTable{shape: shape, enc: enc, values: values}, nil
}

func (t *DenseTable) Shape() Shape     { return t.shape }
func (t *DenseTable) Encoding() string { return EncodingDense }
func (t *DenseTable) Len() int         { return t.enc.Size() }

func (t *DenseTable) offset(s State) (int, error) {
	idx, err := t.enc.Index(s)
	if err != nil {
		return 0, err
	}
	return idx * t.shape.NumActions, nil
}

func (t *DenseTable) Row(s State) ([]float64, error) {
	off, err := t.offset(s)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), t.values[off:off+t.shape.NumActions]...), nil
}

func (t *DenseTable) Set(s State, action int, value float64) error {
	off, err := t.offset(s)
	if err != nil {
		return err
	}
	if err := checkAction(t.shape, action); err != nil {
		return err
	}
	t.values[off+action] = value
	return nil
}

func (t *DenseTable) SetRow(s State, row []float64) error {
	off, err := t.offset(s)
	if err != nil {
		return err
	}
	if len(row) != t.shape.NumActions {
		return fmt.Errorf("row for %v has %d values, want %d", s, len(row), t.shape.NumActions)
	}
	copy(t.values[off:off+t.shape.NumActions], row)
	return nil
}

// RowAt returns the row at a dense index
func (t *DenseTable) RowAt(idx int) ([]float64, error) {
	if idx < 0 || idx >= t.enc.Size() {
		return nil, fmt.Errorf("%w: index %d outside [0, %d)", ErrStateOutOfRange, idx, t.enc.Size())
	}
	off := idx * t.shape.NumActions
	return append([]float64(nil), t.values[off:off+t.shape.NumActions]...), nil
}

func (t *DenseTable) Range(fn func(s State, row []float64) bool) {
	n := t.shape.NumActions
	for i := 0; i < t.enc.Size(); i++ {
		s, _ := t.enc.Decode(i)
		if !fn(s, append([]float64(nil), t.values[i*n:(i+1)*n]...)) {
			return
		}
	}
}
