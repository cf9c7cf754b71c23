package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"robot-qlearning/internal/rl"
	"robot-qlearning/pkg/config"
	"robot-qlearning/pkg/storage"

	"github.com/logrusorgru/aurora"
)

type options struct {
	configPath string
	backend    string
	key        string
	rows       int
	asJSON     bool
	color      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", os.Getenv("ROBOT_QL_CONFIG"), "path to the configuration file")
	flag.StringVar(&opts.backend, "backend", "", "override persistence.backend (file or sqlite)")
	flag.StringVar(&opts.key, "key", "", "table key, defaults to persistence.table_path")
	flag.IntVar(&opts.rows, "n", 10, "number of rows to print, 0 for all")
	flag.BoolVar(&opts.asJSON, "json", false, "print rows as JSON")
	flag.BoolVar(&opts.color, "color", true, "highlight the greedy action")
	flag.Parse()

	cfg, err := config.NewLoader(opts.configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "qtable-inspect: %v\n", err)
		os.Exit(2)
	}
	if err := inspect(context.Background(), os.Stdout, cfg.Persistence, opts); err != nil {
		fmt.Fprintf(os.Stderr, "qtable-inspect: %v\n", err)
		os.Exit(1)
	}
}

type jsonRow struct {
	State  []int     `json:"state"`
	Values []float64 `json:"values"`
	Greedy string    `json:"greedy"`
}

type jsonOutput struct {
	Encoding string    `json:"encoding"`
	Shape    rl.Shape  `json:"shape"`
	Revision string    `json:"revision"`
	RunID    string    `json:"run_id,omitempty"`
	Rows     []jsonRow `json:"rows"`
	Total    int       `json:"total_rows"`
}

func inspect(ctx context.Context, w io.Writer, pcfg config.PersistenceConfig, opts options) error {
	if opts.backend != "" {
		pcfg.Backend = opts.backend
	}
	key := opts.key
	if key == "" {
		key = pcfg.TablePath
	}

	backend, err := storage.Open(pcfg)
	if err != nil {
		return err
	}
	store := storage.NewTableStore(backend)
	defer store.Close()

	env, table, err := store.Inspect(ctx, key)
	if err != nil {
		return err
	}

	names := env.Actions
	if len(names) != table.Shape().NumActions {
		names = make([]string, table.Shape().NumActions)
		for i := range names {
			names[i] = fmt.Sprintf("a%d", i)
		}
	}

	out := jsonOutput{
		Encoding: env.Encoding,
		Shape:    env.Shape,
		Revision: env.Revision,
		RunID:    env.RunID,
		Total:    table.Len(),
	}
	table.Range(func(s rl.State, row []float64) bool {
		out.Rows = append(out.Rows, jsonRow{State: s, Values: row, Greedy: names[rl.Greedy(row)]})
		return opts.rows <= 0 || len(out.Rows) < opts.rows
	})

	if opts.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	au := aurora.NewAurora(opts.color)
	fmt.Fprintf(w, "%s %s  encoding=%s  revision=%s  saved=%s\n",
		au.Bold("Q-table"), key, env.Encoding, env.Revision, env.SavedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "shape %s, %d rows stored\n\n", env.Shape, table.Len())

	fmt.Fprintf(w, "%-16s", "state")
	for _, n := range names {
		fmt.Fprintf(w, " %10s", n)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 16+11*len(names)))

	for _, r := range out.Rows {
		fmt.Fprintf(w, "%-16s", rl.State(r.State).Key())
		best := rl.Greedy(r.Values)
		for i, v := range r.Values {
			cell := fmt.Sprintf(" %10.4f", v)
			if i == best {
				fmt.Fprint(w, au.Green(cell))
			} else {
				fmt.Fprint(w, au.Blue(cell))
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}
