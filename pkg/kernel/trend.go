package kernel

import (
	"math"
	"strings"
	"time"

	"github.com/driftwatch/driftwatch/pkg/event"
	"github.com/driftwatch/driftwatch/pkg/logger"
)

// TrendDirection says which way a metric moved against its baseline.
type TrendDirection string

const (
	TrendUp     TrendDirection = "up"
	TrendDown   TrendDirection = "down"
	TrendStable TrendDirection = "stable"
)

// TrendSeverity grades a trend by how far the metric deviated.
type TrendSeverity string

const (
	SeverityNotable     TrendSeverity = "notable"
	SeveritySignificant TrendSeverity = "significant"
	SeverityCritical    TrendSeverity = "critical"
)

// Trend is a detected deviation of a metric from its rolling baseline.
type Trend struct {
	Metric         string         `json:"metric"`
	CurrentValue   float64        `json:"current_value"`
	BaselineMean   float64        `json:"baseline_mean"`
	BaselineStddev float64        `json:"baseline_stddev"`
	ZScore         float64        `json:"z_score"`
	Direction      TrendDirection `json:"direction"`
	Severity       TrendSeverity  `json:"severity"`
	Since          time.Time      `json:"since"`
}

// metricBaseline keeps a fixed window of historical values, oldest first.
type metricBaseline struct {
	values    []float64
	maxWindow int
}

func (b *metricBaseline) push(value float64) {
	b.values = append(b.values, value)
	if len(b.values) > b.maxWindow {
		b.values = b.values[1:]
	}
}

func (b *metricBaseline) mean() float64 {
	if len(b.values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range b.values {
		sum += v
	}
	return sum / float64(len(b.values))
}

func (b *metricBaseline) stddev() float64 {
	if len(b.values) < 2 {
		return 0
	}
	mean := b.mean()
	variance := 0.0
	for _, v := range b.values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(b.values)))
}

// TrendDetector tracks rolling baselines per metric and flags values
// that land more than two standard deviations away.
type TrendDetector struct {
	baselines           map[string]*metricBaseline
	windowSize          int
	minDataPoints       int
	zScoreTrigger       float64
	directionUp         float64
	directionDown       float64
	severitySignificant float64
	severityCritical    float64
}

// NewTrendDetector returns a detector with a 7-day hourly window.
func NewTrendDetector() *TrendDetector {
	return &TrendDetector{
		baselines:           make(map[string]*metricBaseline),
		windowSize:          168,
		minDataPoints:       3,
		zScoreTrigger:       2.0,
		directionUp:         0.5,
		directionDown:       0.5,
		severitySignificant: 3.0,
		severityCritical:    4.0,
	}
}

// NewTrendDetectorWithWindow returns a detector with a custom window size.
func NewTrendDetectorWithWindow(windowSize int) *TrendDetector {
	det := NewTrendDetector()
	det.windowSize = windowSize
	return det
}

// ExtractMetrics derives the tracked metric values from a batch of
// events: per-type counts, unique member count, error rate and total.
func ExtractMetrics(events []event.Event) map[string]float64 {
	metrics := make(map[string]float64)
	eventCounts := make(map[string]float64)
	uniqueMembers := make(map[string]struct{})
	errorCount := 0.0
	totalCount := 0.0

	for _, e := range events {
		totalCount++
		eventCounts[e.EventType]++
		if member, _ := e.Text("memberCode"); member != "" {
			uniqueMembers[member] = struct{}{}
		}
		if strings.Contains(e.EventType, "Error") || strings.Contains(e.EventType, "error") {
			errorCount++
		}
	}

	for eventType, count := range eventCounts {
		metrics["events_"+eventType] = count
	}
	metrics["unique_members"] = float64(len(uniqueMembers))
	if totalCount > 0 {
		metrics["error_rate"] = errorCount / totalCount
	} else {
		metrics["error_rate"] = 0
	}
	metrics["total_events"] = totalCount
	return metrics
}

// Detect compares current metric values against their baselines and
// returns trends whose |z| exceeds the trigger. The current values are
// pushed into the baselines after comparison.
func (d *TrendDetector) Detect(currentMetrics map[string]float64) []Trend {
	now := time.Now().UTC()
	var trends []Trend

	for metricName, currentValue := range currentMetrics {
		baseline, ok := d.baselines[metricName]
		if !ok {
			baseline = &metricBaseline{maxWindow: d.windowSize}
			d.baselines[metricName] = baseline
		}

		mean := baseline.mean()
		stddev := baseline.stddev()

		if len(baseline.values) >= d.minDataPoints && stddev > epsilon {
			z := (currentValue - mean) / stddev
			absZ := math.Abs(z)
			if absZ > d.zScoreTrigger {
				direction := TrendStable
				if z > d.directionUp {
					direction = TrendUp
				} else if z < -d.directionDown {
					direction = TrendDown
				}

				severity := SeverityNotable
				if absZ > d.severityCritical {
					severity = SeverityCritical
				} else if absZ > d.severitySignificant {
					severity = SeveritySignificant
				}

				trends = append(trends, Trend{
					Metric:         metricName,
					CurrentValue:   currentValue,
					BaselineMean:   mean,
					BaselineStddev: stddev,
					ZScore:         z,
					Direction:      direction,
					Severity:       severity,
					Since:          now,
				})
			}
		}

		baseline.push(currentValue)
	}

	logger.Debug("[Trend] Detection complete", "metrics", len(currentMetrics), "trends", len(trends))
	return trends
}

// ZScore standardizes a value against a baseline. Returns 0 when the
// baseline has no spread.
func ZScore(value, mean, stddev float64) float64 {
	if stddev <= epsilon {
		return 0
	}
	return (value - mean) / stddev
}
