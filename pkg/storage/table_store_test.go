package storage

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"robot-qlearning/internal/rl"
	"robot-qlearning/pkg/config"
)

func tempFileStore(t *testing.T, backups int) (*TableStore, *FileBackend) {
	t.Helper()
	b, err := NewFileBackend(t.TempDir(), backups)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	return NewTableStore(b), b
}

func tempSQLiteStore(t *testing.T) *TableStore {
	t.Helper()
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "qtables.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return NewTableStore(b)
}

func testParams(t *testing.T, encoding string) *rl.Params {
	t.Helper()
	params, err := rl.NewParams(config.RLConfig{
		NumBins:       5,
		SensorIndices: []int{7, 4, 5},
		Thresholds:    []float64{4, 7, 10, 15},
		Actions: []config.ActionConfig{
			{Name: "forward", LeftSpeed: 50, RightSpeed: 50, DurationMs: 1000},
			{Name: "left", LeftSpeed: 50, RightSpeed: -10, DurationMs: 500},
			{Name: "right", LeftSpeed: -10, RightSpeed: 50, DurationMs: 500},
		},
		TableEncoding:       encoding,
		TableInit:           "random",
		LearningRate:        0.1,
		DiscountFactor:      0.9,
		ExplorationSchedule: "constant",
		ExplorationRate:     0.1,
		NumEpisodes:         1,
		MaxSteps:            1,
		Reward:              config.RewardConfig{CollisionPenalty: -50, BaseReward: 1, ForwardBonus: 10, ForwardAction: "forward"},
	})
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	return params
}

// awkwardTable holds values whose decimal forms are easy to get wrong
func awkwardTable(t *testing.T, encoding string) rl.Table {
	t.Helper()
	table, err := rl.NewTable(encoding, rl.Shape{NumBins: 5, NumSensors: 3, NumActions: 3}, rl.RandomFill(rand.New(rand.NewSource(11))))
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	table.SetRow(rl.State{0, 0, 0}, []float64{0.1 + 0.2, -4.01, 1.0 / 3.0})
	table.SetRow(rl.State{4, 4, 4}, []float64{math.SmallestNonzeroFloat64, -math.MaxFloat64, 0.55})
	table.SetRow(rl.State{1, 2, 3}, []float64{math.Copysign(0, -1), 1e-300, 123456789.123456789})
	return table
}

func assertSameTable(t *testing.T, want, got rl.Table) {
	t.Helper()
	if got.Shape() != want.Shape() || got.Len() != want.Len() {
		t.Fatalf("shape/len: got %s/%d, want %s/%d", got.Shape(), got.Len(), want.Shape(), want.Len())
	}
	want.Range(func(s rl.State, row []float64) bool {
		other, err := got.Row(s)
		if err != nil {
			t.Fatalf("Row(%v): %v", s, err)
		}
		for i := range row {
			if math.Float64bits(row[i]) != math.Float64bits(other[i]) {
				t.Fatalf("Q[%v][%d]: got %v, want %v (bits differ)", s, i, other[i], row[i])
			}
		}
		return true
	})
}

func TestSaveLoadRoundTripIsExact(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{"file", "sqlite"} {
		for _, encoding := range []string{rl.EncodingSparse, rl.EncodingDense} {
			t.Run(backend+"/"+encoding, func(t *testing.T) {
				var store *TableStore
				if backend == "file" {
					store, _ = tempFileStore(t, 0)
				} else {
					store = tempSQLiteStore(t)
				}

				table := awkwardTable(t, encoding)
				if err := store.Save(ctx, "q_table.json", table); err != nil {
					t.Fatalf("Save: %v", err)
				}
				loaded, err := store.Load(ctx, "q_table.json")
				if err != nil {
					t.Fatalf("Load: %v", err)
				}
				if loaded.Encoding() != encoding {
					t.Fatalf("encoding: got %s", loaded.Encoding())
				}
				assertSameTable(t, table, loaded)
			})
		}
	}
}

func TestPartialSparseTableRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := tempFileStore(t, 0)
	table, _ := rl.NewSparseTable(rl.Shape{NumBins: 5, NumSensors: 3, NumActions: 3}, rl.ZeroFill)
	table.SetRow(rl.State{2, 0, 1}, []float64{1, 2, 3})

	if err := store.Save(ctx, "partial.json", table); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := store.Load(ctx, "partial.json")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 1 {
		t.Fatalf("rows: got %d, want 1", loaded.Len())
	}
	assertSameTable(t, table, loaded)
}

func TestLoadMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	fileStore, _ := tempFileStore(t, 0)
	for name, store := range map[string]*TableStore{"file": fileStore, "sqlite": tempSQLiteStore(t)} {
		if _, err := store.Load(ctx, "nothing-here.json"); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: expected ErrNotFound, got %v", name, err)
		}
	}
}

func TestLoadCorrupt(t *testing.T) {
	ctx := context.Background()
	store, b := tempFileStore(t, 0)

	tests := map[string]string{
		"not json":        "{{{",
		"unknown version": `{"format_version": 99, "encoding": "sparse", "shape": {"num_bins": 5, "num_sensors": 3, "num_actions": 3}}`,
		"bad encoding":    `{"format_version": 1, "encoding": "csv", "shape": {"num_bins": 5, "num_sensors": 3, "num_actions": 3}}`,
		"row out of range": `{"format_version": 1, "encoding": "sparse", "shape": {"num_bins": 5, "num_sensors": 3, "num_actions": 3},
			"rows": [{"state": [9, 0, 0], "values": [1, 2, 3]}]}`,
		"short row": `{"format_version": 1, "encoding": "dense", "shape": {"num_bins": 5, "num_sensors": 3, "num_actions": 3},
			"rows": [{"state": [0, 0, 0], "values": [1]}]}`,
		"huge action count": `{"format_version": 1, "encoding": "dense", "shape": {"num_bins": 2, "num_sensors": 1, "num_actions": 4611686018427387904}, "rows": []}`,
		"huge state space":  `{"format_version": 1, "encoding": "dense", "shape": {"num_bins": 1000, "num_sensors": 9, "num_actions": 3}, "rows": []}`,
		"no actions":        `{"format_version": 1, "encoding": "sparse", "shape": {"num_bins": 5, "num_sensors": 3, "num_actions": 0}, "rows": []}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if err := os.WriteFile(b.Path("bad.json"), []byte(body), 0644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := store.Load(ctx, "bad.json"); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestInitializeCreatesAndPersists(t *testing.T) {
	ctx := context.Background()
	store, b := tempFileStore(t, 0)
	params := testParams(t, rl.EncodingSparse)

	table, created, err := store.Initialize(ctx, "q_table.json", params, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !created || table.Len() != 125 {
		t.Fatalf("created=%v rows=%d", created, table.Len())
	}
	if _, err := os.Stat(b.Path("q_table.json")); err != nil {
		t.Fatalf("new table was not persisted: %v", err)
	}

	table.Set(rl.State{1, 1, 1}, 0, 42)
	if err := store.Save(ctx, "q_table.json", table); err != nil {
		t.Fatalf("Save: %v", err)
	}

	again, created, err := store.Initialize(ctx, "q_table.json", params, rand.New(rand.NewSource(6)))
	if err != nil {
		t.Fatalf("Initialize existing: %v", err)
	}
	if created {
		t.Fatal("existing table should be loaded, not recreated")
	}
	assertSameTable(t, table, again)
}

func TestInitializeRejectsShapeMismatch(t *testing.T) {
	ctx := context.Background()
	store := tempSQLiteStore(t)
	other, _ := rl.NewTable(rl.EncodingSparse, rl.Shape{NumBins: 4, NumSensors: 3, NumActions: 3}, rl.ZeroFill)
	if err := store.Save(ctx, "q", other); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, _, err := store.Initialize(ctx, "q", testParams(t, rl.EncodingSparse), rand.New(rand.NewSource(1)))
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *config.ConfigurationError, got %v", err)
	}
}

func TestInitializeRejectsRenamedActions(t *testing.T) {
	ctx := context.Background()
	b, _ := NewFileBackend(t.TempDir(), 0)
	writer := NewTableStore(b, WithActionNames([]string{"forward", "spin_left", "spin_right"}))
	table, _ := rl.NewTable(rl.EncodingSparse, rl.Shape{NumBins: 5, NumSensors: 3, NumActions: 3}, rl.ZeroFill)
	if err := writer.Save(ctx, "q.json", table); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, _, err := NewTableStore(b).Initialize(ctx, "q.json", testParams(t, rl.EncodingSparse), rand.New(rand.NewSource(1)))
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "rl.actions" {
		t.Fatalf("expected rl.actions ConfigurationError, got %v", err)
	}
}

func TestInitializeConvertsEncoding(t *testing.T) {
	ctx := context.Background()
	store, _ := tempFileStore(t, 0)
	sparse := awkwardTable(t, rl.EncodingSparse)
	if err := store.Save(ctx, "q.json", sparse); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dense, _, err := store.Initialize(ctx, "q.json", testParams(t, rl.EncodingDense), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if dense.Encoding() != rl.EncodingDense {
		t.Fatalf("encoding: got %s", dense.Encoding())
	}
	assertSameTable(t, sparse, dense)
}

func TestFileBackendRotatesBackups(t *testing.T) {
	ctx := context.Background()
	store, b := tempFileStore(t, 2)
	table := awkwardTable(t, rl.EncodingSparse)

	for i := 0; i < 5; i++ {
		if err := store.Save(ctx, "q_table.json", table); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	backups, err := b.Backups("q_table.json")
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("backups: got %d (%v), want 2", len(backups), backups)
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(b.Path("q_table.json")), "*.tmp"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestBoundStoreSavesUnderKey(t *testing.T) {
	ctx := context.Background()
	store := tempSQLiteStore(t)
	table := awkwardTable(t, rl.EncodingDense)

	if err := store.Bind("run/q").Save(ctx, table); err != nil {
		t.Fatalf("Save: %v", err)
	}
	keys, err := store.Backend().(*SQLiteBackend).Keys(ctx)
	if err != nil || len(keys) != 1 || keys[0] != "run/q" {
		t.Fatalf("keys: %v, %v", keys, err)
	}

	env, _, err := store.Inspect(ctx, "run/q")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if env.Revision == "" || env.FormatVersion != FormatVersion || env.SavedAt.IsZero() {
		t.Fatalf("envelope metadata missing: %+v", env)
	}
}

func TestFailedSaveKeepsPreviousTable(t *testing.T) {
	ctx := context.Background()

	t.Run("unencodable values", func(t *testing.T) {
		store, b := tempFileStore(t, 0)
		prior := awkwardTable(t, rl.EncodingSparse)
		if err := store.Save(ctx, "q.json", prior); err != nil {
			t.Fatalf("Save: %v", err)
		}

		broken := awkwardTable(t, rl.EncodingSparse)
		broken.SetRow(rl.State{0, 0, 0}, []float64{math.Inf(-1), 0, 0})
		if err := store.Save(ctx, "q.json", broken); err == nil {
			t.Fatal("Save accepted a non-finite value")
		}

		loaded, err := store.Load(ctx, "q.json")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		assertSameTable(t, prior, loaded)
		leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(b.Path("q.json")), "*.tmp"))
		if len(leftovers) != 0 {
			t.Fatalf("temp files left behind: %v", leftovers)
		}
	})

	t.Run("read-only directory", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permissions are not enforced for root")
		}
		store, b := tempFileStore(t, 0)
		prior := awkwardTable(t, rl.EncodingSparse)
		if err := store.Save(ctx, "q.json", prior); err != nil {
			t.Fatalf("Save: %v", err)
		}

		dir := filepath.Dir(b.Path("q.json"))
		if err := os.Chmod(dir, 0555); err != nil {
			t.Fatalf("chmod: %v", err)
		}
		t.Cleanup(func() { os.Chmod(dir, 0755) })

		if err := store.Save(ctx, "q.json", awkwardTable(t, rl.EncodingDense)); err == nil {
			t.Fatal("Save into a read-only directory succeeded")
		}
		loaded, err := store.Load(ctx, "q.json")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if loaded.Encoding() != rl.EncodingSparse {
			t.Fatalf("table was replaced: encoding %s", loaded.Encoding())
		}
		assertSameTable(t, prior, loaded)
	})
}

func TestLoadForNeverCreates(t *testing.T) {
	ctx := context.Background()
	store, b := tempFileStore(t, 0)
	params := testParams(t, rl.EncodingSparse)

	if _, err := store.LoadFor(ctx, "q.json", params); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := os.Stat(b.Path("q.json")); !os.IsNotExist(err) {
		t.Fatalf("LoadFor created a table: %v", err)
	}

	other, _ := rl.NewTable(rl.EncodingSparse, rl.Shape{NumBins: 4, NumSensors: 3, NumActions: 3}, rl.ZeroFill)
	if err := store.Save(ctx, "q.json", other); err != nil {
		t.Fatalf("Save: %v", err)
	}
	var cfgErr *config.ConfigurationError
	if _, err := store.LoadFor(ctx, "q.json", params); !errors.As(err, &cfgErr) {
		t.Fatalf("expected *config.ConfigurationError, got %v", err)
	}
}
