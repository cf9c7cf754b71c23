package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"robot-qlearning/internal/rl"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteRewardChart renders per-episode reward, steps and epsilon of a run
// as an HTML page at path
func WriteRewardChart(path, title string, results []rl.EpisodeResult) error {
	if len(results) == 0 {
		return fmt.Errorf("no episodes to chart")
	}

	episodes := make([]string, len(results))
	rewards := make([]opts.LineData, len(results))
	steps := make([]opts.LineData, len(results))
	epsilons := make([]opts.LineData, len(results))
	for i, r := range results {
		episodes[i] = strconv.Itoa(r.Episode)
		rewards[i] = opts.LineData{Value: r.TotalReward}
		steps[i] = opts.LineData{Value: r.Steps}
		epsilons[i] = opts.LineData{Value: r.Epsilon}
	}

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(
		newLine(title+": total reward", episodes, "reward", rewards),
		newLine("Steps per episode", episodes, "steps", steps),
		newLine("Exploration rate", episodes, "epsilon", epsilons),
	)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := page.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("render report: %w", err)
	}
	return f.Close()
}

func newLine(title string, x []string, series string, data []opts.LineData) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithInitializationOpts(opts.Initialization{Theme: "shine"}),
	)
	line.SetXAxis(x).AddSeries(series, data)
	return line
}
