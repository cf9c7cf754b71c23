package rl

import (
	"errors"
	"math/rand"
	"testing"
)

var testShape = Shape{NumBins: 5, NumSensors: 3, NumActions: 3}

func TestNewTableCoversStateSpace(t *testing.T) {
	for _, encoding := range []string{EncodingSparse, EncodingDense} {
		t.Run(encoding, func(t *testing.T) {
			table, err := NewTable(encoding, testShape, ZeroFill)
			if err != nil {
				t.Fatalf("NewTable: %v", err)
			}
			if table.Len() != 125 {
				t.Fatalf("rows: got %d, want 125", table.Len())
			}
			count := 0
			table.Range(func(s State, row []float64) bool {
				if len(row) != testShape.NumActions {
					t.Fatalf("row %v has %d values", s, len(row))
				}
				count++
				return true
			})
			if count != 125 {
				t.Fatalf("Range visited %d rows", count)
			}
		})
	}
}

func TestTableSetAndRow(t *testing.T) {
	for _, encoding := range []string{EncodingSparse, EncodingDense} {
		t.Run(encoding, func(t *testing.T) {
			table, _ := NewTable(encoding, testShape, ZeroFill)
			s := State{4, 0, 2}
			if err := table.Set(s, 2, -7.25); err != nil {
				t.Fatalf("Set: %v", err)
			}
			row, err := table.Row(s)
			if err != nil {
				t.Fatalf("Row: %v", err)
			}
			if row[0] != 0 || row[1] != 0 || row[2] != -7.25 {
				t.Fatalf("row: got %v", row)
			}

			// rows are copies
			row[0] = 99
			again, _ := table.Row(s)
			if again[0] != 0 {
				t.Fatal("mutating a returned row changed the table")
			}

			if err := table.Set(s, 3, 1); err == nil {
				t.Fatal("expected error for action index 3")
			}
			if _, err := table.Row(State{5, 0, 0}); !errors.Is(err, ErrStateOutOfRange) {
				t.Fatalf("expected ErrStateOutOfRange, got %v", err)
			}
		})
	}
}

func TestSparseTableCreatesRowsLazily(t *testing.T) {
	table, err := NewSparseTable(testShape, func() float64 { return 0.5 })
	if err != nil {
		t.Fatalf("NewSparseTable: %v", err)
	}
	if table.Len() != 0 {
		t.Fatalf("new sparse table has %d rows", table.Len())
	}
	row, err := table.Row(State{1, 2, 3})
	if err != nil {
		t.Fatalf("Row: %v", err)
	}
	if len(row) != 3 || row[0] != 0.5 {
		t.Fatalf("lazy row: got %v", row)
	}
	if table.Len() != 1 {
		t.Fatalf("rows after first read: got %d", table.Len())
	}
}

func TestRandomFillRange(t *testing.T) {
	table, err := NewTable(EncodingDense, testShape, RandomFill(rand.New(rand.NewSource(3))))
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	table.Range(func(s State, row []float64) bool {
		for _, v := range row {
			if v < 0 || v >= 1 {
				t.Fatalf("value %v outside [0,1)", v)
			}
		}
		return true
	})
}

func TestRangeOrderIsDenseIndex(t *testing.T) {
	table, _ := NewSparseTable(testShape, ZeroFill)
	for _, s := range []State{{0, 0, 1}, {3, 0, 0}, {0, 1, 0}} {
		table.SetRow(s, []float64{1, 2, 3})
	}
	var got []string
	table.Range(func(s State, _ []float64) bool {
		got = append(got, s.Key())
		return true
	})
	want := []string{"3,0,0", "0,1,0", "0,0,1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order: got %v, want %v", got, want)
		}
	}
}

func TestSetRowValidatesWidth(t *testing.T) {
	for _, encoding := range []string{EncodingSparse, EncodingDense} {
		table, _ := NewEmptyTable(encoding, testShape)
		if err := table.SetRow(State{0, 0, 0}, []float64{1, 2}); err == nil {
			t.Fatalf("%s: expected width error", encoding)
		}
	}
}

func TestGreedyAndMax(t *testing.T) {
	table, _ := NewTable(EncodingSparse, testShape, ZeroFill)
	s := State{0, 0, 0}
	table.SetRow(s, []float64{2, 5, 1})
	m, err := MaxValue(table, s)
	if err != nil || m != 5 {
		t.Fatalf("MaxValue: got %v, %v", m, err)
	}
	if Greedy([]float64{2, 5, 5}) != 1 {
		t.Fatal("ties must break to the lowest index")
	}
}

func TestShapeValidate(t *testing.T) {
	tests := []struct {
		name  string
		shape Shape
		ok    bool
	}{
		{"default", testShape, true},
		{"at the cap", Shape{NumBins: 2, NumSensors: 24, NumActions: 4}, true},
		{"over the cap", Shape{NumBins: 2, NumSensors: 24, NumActions: 5}, false},
		{"overflowing actions", Shape{NumBins: 2, NumSensors: 1, NumActions: 1 << 62}, false},
		{"overflowing state space", Shape{NumBins: 1000, NumSensors: 9, NumActions: 3}, false},
		{"no actions", Shape{NumBins: 5, NumSensors: 3}, false},
		{"no sensors", Shape{NumBins: 5, NumActions: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.shape.Validate(); (err == nil) != tt.ok {
				t.Fatalf("Validate(%s) = %v, want ok=%v", tt.shape, err, tt.ok)
			}
		})
	}

	if _, err := NewEmptyTable(EncodingDense, Shape{NumBins: 2, NumSensors: 1, NumActions: 1 << 62}); err == nil {
		t.Fatal("NewEmptyTable accepted an oversized shape")
	}
}
