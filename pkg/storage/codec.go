package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"robot-qlearning/internal/rl"
)

// FormatVersion is the envelope version written by Encode
const FormatVersion = 1

var (
	// ErrNotFound means nothing is stored under the key
	ErrNotFound = errors.New("q-table not found")
	// ErrCorrupt means the stored blob cannot be decoded into a table
	ErrCorrupt = errors.New("q-table corrupt")
)

// Envelope is the persisted form of a Q-table
type Envelope struct {
	FormatVersion int       `json:"format_version"`
	Encoding      string    `json:"encoding"`
	Shape         rl.Shape  `json:"shape"`
	Actions       []string  `json:"actions,omitempty"`
	Revision      string    `json:"revision"`
	RunID         string    `json:"run_id,omitempty"`
	SavedAt       time.Time `json:"saved_at"`
	Rows          []Row     `json:"rows"`
}

// Row is one state and its action values
type Row struct {
	State  []int     `json:"state"`
	Values []float64 `json:"values"`
}

// Meta is the descriptive part of an envelope supplied by the caller
type Meta struct {
	Actions  []string
	Revision string
	RunID    string
	SavedAt  time.Time
}

// Encode serializes a table. Floats are written in shortest round-trip
// form so decoding reproduces them bit for bit
func Encode(t rl.Table, meta Meta) ([]byte, error) {
	env := Envelope{
		FormatVersion: FormatVersion,
		Encoding:      t.Encoding(),
		Shape:         t.Shape(),
		Actions:       meta.Actions,
		Revision:      meta.Revision,
		RunID:         meta.RunID,
		SavedAt:       meta.SavedAt.UTC(),
		Rows:          make([]Row, 0, t.Len()),
	}
	t.Range(func(s rl.State, values []float64) bool {
		env.Rows = append(env.Rows, Row{State: s, Values: values})
		return true
	})

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal q-table: %w", err)
	}
	return data, nil
}

// Decode parses an envelope and rebuilds its table. Every failure wraps
// ErrCorrupt
func Decode(data []byte) (*Envelope, rl.Table, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.FormatVersion != FormatVersion {
		return nil, nil, fmt.Errorf("%w: unsupported format_version %d", ErrCorrupt, env.FormatVersion)
	}
	if err := env.Shape.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if n := len(env.Actions); n != 0 && n != env.Shape.NumActions {
		return nil, nil, fmt.Errorf("%w: %d action names for %d actions", ErrCorrupt, n, env.Shape.NumActions)
	}

	t, err := rl.NewEmptyTable(env.Encoding, env.Shape)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	for i, r := range env.Rows {
		if err := t.SetRow(rl.State(r.State), r.Values); err != nil {
			return nil, nil, fmt.Errorf("%w: row %d: %v", ErrCorrupt, i, err)
		}
	}
	return &env, t, nil
}
