package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"robot-qlearning/internal/rl"
)

func TestWriteRewardChart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charts", "run.html")
	results := []rl.EpisodeResult{
		{Episode: 0, Steps: 3, TotalReward: -39, Epsilon: 1, Reason: rl.ReasonCollision},
		{Episode: 1, Steps: 20, TotalReward: 220, Epsilon: 0.5, Reason: rl.ReasonMaxSteps},
	}

	if err := WriteRewardChart(path, "obstacle avoidance", results); err != nil {
		t.Fatalf("WriteRewardChart: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	html := string(data)
	for _, want := range []string{"obstacle avoidance", "Steps per episode", "Exploration rate"} {
		if !strings.Contains(html, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestWriteRewardChartRequiresEpisodes(t *testing.T) {
	if err := WriteRewardChart(filepath.Join(t.TempDir(), "x.html"), "empty", nil); err == nil {
		t.Fatal("expected error for empty results")
	}
}
