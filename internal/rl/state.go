package rl

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"robot-qlearning/internal/robot"
)

// ErrStateOutOfRange is returned for states that do not fit the table shape
var ErrStateOutOfRange = errors.New("state out of range")

// State is one bin per monitored sensor. Bin 0 is the safest
type State []int

// Key is the tuple form used by sparse tables, e.g. "1,0,3"
func (s State) Key() string {
	var b strings.Builder
	for i, v := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

func (s State) String() string {
	return "(" + s.Key() + ")"
}

// Equal reports whether both states hold the same bins
func (s State) Equal(o State) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// ParseStateKey is the inverse of State.Key
func ParseStateKey(key string) (State, error) {
	if key == "" {
		return nil, fmt.Errorf("empty state key")
	}
	parts := strings.Split(key, ",")
	s := make(State, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("state key %q: %w", key, err)
		}
		s[i] = v
	}
	return s, nil
}

// Bin classifies one reading. A reading falls in the first bin whose
// threshold it is below, or in the last bin if it exceeds them all.
// Readings that mean "nothing detected" (±Inf, NaN, or at or above a
// positive ceiling) fall in bin 0
func Bin(reading float64, thresholds []float64, ceiling float64) int {
	if math.IsInf(reading, 0) || math.IsNaN(reading) {
		return 0
	}
	if ceiling > 0 && reading >= ceiling {
		return 0
	}
	for i, th := range thresholds {
		if reading < th {
			return i
		}
	}
	return len(thresholds)
}

// Discretize bins every reading against the same thresholds
func Discretize(readings []float64, thresholds []float64) State {
	s := make(State, len(readings))
	for i, r := range readings {
		s[i] = Bin(r, thresholds, 0)
	}
	return s
}

// Discretizer turns a raw IR vector into a State
type Discretizer struct {
	thresholds    []float64
	sensorIndices []int
	ceiling       float64
	round         bool
}

// NewDiscretizer copies its inputs so later mutation by the caller has no effect
func NewDiscretizer(thresholds []float64, sensorIndices []int, ceiling float64, round bool) *Discretizer {
	return &Discretizer{
		thresholds:    append([]float64(nil), thresholds...),
		sensorIndices: append([]int(nil), sensorIndices...),
		ceiling:       ceiling,
		round:         round,
	}
}

// NumBins is one more than the number of thresholds
func (d *Discretizer) NumBins() int { return len(d.thresholds) + 1 }

// NumSensors is the number of monitored sensors
func (d *Discretizer) NumSensors() int { return len(d.sensorIndices) }

// Select projects the raw vector onto the monitored sensors
func (d *Discretizer) Select(raw []float64) ([]float64, error) {
	out := make([]float64, len(d.sensorIndices))
	for i, idx := range d.sensorIndices {
		if idx >= len(raw) {
			return nil, &robot.CollaboratorError{
				Op:  "read_irs",
				Err: fmt.Errorf("sensor index %d missing from %d readings", idx, len(raw)),
			}
		}
		out[i] = raw[idx]
	}
	return out, nil
}

// Discretize bins already selected readings
func (d *Discretizer) Discretize(readings []float64) State {
	s := make(State, len(readings))
	for i, r := range readings {
		if d.round && !math.IsInf(r, 0) && !math.IsNaN(r) {
			r = math.Round(r)
		}
		s[i] = Bin(r, d.thresholds, d.ceiling)
	}
	return s
}

// Observe selects and bins a raw IR vector
func (d *Discretizer) Observe(raw []float64) (State, error) {
	sel, err := d.Select(raw)
	if err != nil {
		return nil, err
	}
	return d.Discretize(sel), nil
}

// Encoder maps states to dense indices with the mixed-radix sum
// Σ s[i] * numBins^i, and back
type Encoder struct {
	numBins    int
	numSensors int
	size       int
}

// NewEncoder fails if the state space does not fit in an int
func NewEncoder(numBins, numSensors int) (*Encoder, error) {
	if numBins < 1 || numSensors < 1 {
		return nil, fmt.Errorf("encoder needs positive bins and sensors, got %d and %d", numBins, numSensors)
	}
	size := 1
	for i := 0; i < numSensors; i++ {
		if size > math.MaxInt32/numBins {
			return nil, fmt.Errorf("state space %d^%d is too large", numBins, numSensors)
		}
		size *= numBins
	}
	return &Encoder{numBins: numBins, numSensors: numSensors, size: size}, nil
}

// Size is the number of distinct states
func (e *Encoder) Size() int { return e.size }

// Check returns ErrStateOutOfRange if s is not a valid state
func (e *Encoder) Check(s State) error {
	if len(s) != e.numSensors {
		return fmt.Errorf("%w: %v has %d sensors, want %d", ErrStateOutOfRange, s, len(s), e.numSensors)
	}
	for _, b := range s {
		if b < 0 || b >= e.numBins {
			return fmt.Errorf("%w: %v has bin %d outside [0, %d)", ErrStateOutOfRange, s, b, e.numBins)
		}
	}
	return nil
}

// Index folds a state into its dense index
func (e *Encoder) Index(s State) (int, error) {
	if err := e.Check(s); err != nil {
		return 0, err
	}
	idx, mult := 0, 1
	for _, b := range s {
		idx += b * mult
		mult *= e.numBins
	}
	return idx, nil
}

// Decode expands a dense index into its state
func (e *Encoder) Decode(idx int) (State, error) {
	if idx < 0 || idx >= e.size {
		return nil, fmt.Errorf("%w: index %d outside [0, %d)", ErrStateOutOfRange, idx, e.size)
	}
	s := make(State, e.numSensors)
	for i := range s {
		s[i] = idx % e.numBins
		idx /= e.numBins
	}
	return s, nil
}
