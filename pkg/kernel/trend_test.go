package kernel

import (
	"math"
	"testing"
	"time"

	"github.com/driftwatch/driftwatch/pkg/event"
)

func TestZScore(t *testing.T) {
	if got := ZScore(10, 5, 2); math.Abs(got-2.5) > 1e-10 {
		t.Errorf("ZScore(10,5,2) = %f, want 2.5", got)
	}
	if got := ZScore(5, 5, 2); math.Abs(got) > 1e-10 {
		t.Errorf("ZScore(5,5,2) = %f, want 0", got)
	}
	if got := ZScore(5, 5, 0); got != 0 {
		t.Errorf("zero stddev should yield 0, got %f", got)
	}
}

func TestExtractMetrics(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := []event.Event{
		seqEvent(t, "Login", "M001", base, nil),
		seqEvent(t, "Login", "M002", base, nil),
		seqEvent(t, "GameOpened", "M001", base, nil),
		seqEvent(t, "API Error", "M003", base, nil),
	}

	metrics := ExtractMetrics(events)

	if metrics["events_Login"] != 2 {
		t.Errorf("events_Login = %f, want 2", metrics["events_Login"])
	}
	if metrics["events_GameOpened"] != 1 {
		t.Errorf("events_GameOpened = %f, want 1", metrics["events_GameOpened"])
	}
	if metrics["unique_members"] != 3 {
		t.Errorf("unique_members = %f, want 3", metrics["unique_members"])
	}
	if metrics["total_events"] != 4 {
		t.Errorf("total_events = %f, want 4", metrics["total_events"])
	}
	if math.Abs(metrics["error_rate"]-0.25) > 1e-10 {
		t.Errorf("error_rate = %f, want 0.25", metrics["error_rate"])
	}
}

func TestExtractMetricsEmpty(t *testing.T) {
	metrics := ExtractMetrics(nil)
	if metrics["total_events"] != 0 || metrics["error_rate"] != 0 {
		t.Fatalf("empty batch should yield zero metrics: %v", metrics)
	}
}

func TestDetectNoTrendWithoutVariance(t *testing.T) {
	detector := NewTrendDetectorWithWindow(10)
	for i := 0; i < 10; i++ {
		detector.Detect(map[string]float64{"test_metric": 100})
	}
	trends := detector.Detect(map[string]float64{"test_metric": 200})
	if len(trends) != 0 {
		t.Fatalf("constant baseline has zero stddev, expected no trends, got %+v", trends)
	}
}

func TestDetectTrendWithVariance(t *testing.T) {
	detector := NewTrendDetectorWithWindow(20)
	for _, v := range []float64{100, 102, 98, 101, 99, 103, 97, 100, 102, 98} {
		detector.Detect(map[string]float64{"test_metric": v})
	}

	trends := detector.Detect(map[string]float64{"test_metric": 150})
	if len(trends) != 1 {
		t.Fatalf("expected one trend, got %d", len(trends))
	}
	trend := trends[0]
	if trend.Direction != TrendUp {
		t.Errorf("direction = %s, want up", trend.Direction)
	}
	if trend.ZScore <= 2 {
		t.Errorf("z-score = %f, want > 2", trend.ZScore)
	}
	if trend.Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical for a 25x-sigma jump", trend.Severity)
	}
}

func TestDetectDownTrend(t *testing.T) {
	detector := NewTrendDetectorWithWindow(20)
	for _, v := range []float64{100, 102, 98, 101, 99, 103, 97, 100, 102, 98} {
		detector.Detect(map[string]float64{"test_metric": v})
	}

	trends := detector.Detect(map[string]float64{"test_metric": 50})
	if len(trends) != 1 {
		t.Fatalf("expected one trend, got %d", len(trends))
	}
	if trends[0].Direction != TrendDown {
		t.Errorf("direction = %s, want down", trends[0].Direction)
	}
}

func TestDetectNoTrendsForNormalValues(t *testing.T) {
	detector := NewTrendDetectorWithWindow(20)
	for _, v := range []float64{100, 102, 98, 101, 99, 103, 97, 100, 102, 98} {
		detector.Detect(map[string]float64{"test_metric": v})
	}

	trends := detector.Detect(map[string]float64{"test_metric": 101})
	if len(trends) != 0 {
		t.Fatalf("expected no trends for value within baseline, got %+v", trends)
	}
}

func TestDetectRequiresMinDataPoints(t *testing.T) {
	detector := NewTrendDetector()
	detector.Detect(map[string]float64{"m": 1})
	detector.Detect(map[string]float64{"m": 2})
	trends := detector.Detect(map[string]float64{"m": 1000})
	if len(trends) != 0 {
		t.Fatalf("two data points are below the minimum, got %+v", trends)
	}
}

func TestBaselineWindowEvicts(t *testing.T) {
	detector := NewTrendDetectorWithWindow(3)
	for _, v := range []float64{1, 2, 3, 4} {
		detector.Detect(map[string]float64{"m": v})
	}
	baseline := detector.baselines["m"]
	if len(baseline.values) != 3 {
		t.Fatalf("window should hold 3 values, got %d", len(baseline.values))
	}
	if baseline.values[0] != 2 {
		t.Errorf("oldest value should be evicted, window starts at %f", baseline.values[0])
	}
}
