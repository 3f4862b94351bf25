package cluster

import (
	"fmt"
	"math/rand"
	"time"
)

type Summary struct {
	TotalPoints     int                    `json:"totalPoints"`
	NumClusters     int                    `json:"numClusters"`
	NumSinglePoints int                    `json:"numSinglePoints"`
	MetricsSummary  map[string]MetricStats `json:"metricsSummary"`
	MetadataSummary map[string]interface{} `json:"metadataSummary"`
}

type MetricStats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Sum     float64 `json:"sum"`
	Average float64 `json:"average"`
}

// Summarize aggregates a cluster pass. Numeric metadata values are folded
// into min/max/sum/average, "category" becomes a percentage distribution and
// any other string value reports its most common occurrence.
func Summarize(clusters []Cluster) Summary {
	summary := Summary{
		MetricsSummary:  make(map[string]MetricStats),
		MetadataSummary: make(map[string]interface{}),
	}

	if len(clusters) == 0 {
		return summary
	}

	metricsMap := make(map[string]struct {
		min   float64
		max   float64
		sum   float64
		count int
	})
	metadataFreq := make(map[string]map[string]int)

	for _, c := range clusters {
		if c.Count() > 1 {
			summary.NumClusters++
		} else {
			summary.NumSinglePoints++
		}
		summary.TotalPoints += c.Count()

		for _, p := range c.Points {
			for key, raw := range p.Metadata {
				switch v := raw.(type) {
				case float64, float32, int, int64:
					value := toFloat(v)
					stats, exists := metricsMap[key]
					if !exists || value < stats.min {
						stats.min = value
					}
					if !exists || value > stats.max {
						stats.max = value
					}
					stats.sum += value
					stats.count++
					metricsMap[key] = stats
				case string:
					if _, exists := metadataFreq[key]; !exists {
						metadataFreq[key] = make(map[string]int)
					}
					metadataFreq[key][v]++
				}
			}
		}
	}

	for metricName, stats := range metricsMap {
		summary.MetricsSummary[metricName] = MetricStats{
			Min:     stats.min,
			Max:     stats.max,
			Sum:     stats.sum,
			Average: stats.sum / float64(stats.count),
		}
	}

	for key, freqMap := range metadataFreq {
		if key == "category" {
			distribution := make(map[string]float64)
			total := 0
			for _, count := range freqMap {
				total += count
			}
			for value, count := range freqMap {
				distribution[value] = float64(count) / float64(total) * 100
			}
			summary.MetadataSummary[key] = distribution
			continue
		}

		var mostCommon string
		var maxCount int
		for value, count := range freqMap {
			if count > maxCount || (count == maxCount && value < mostCommon) {
				maxCount = count
				mostCommon = value
			}
		}
		summary.MetadataSummary[key] = mostCommon
	}

	return summary
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// GenerateTestPoints scatters n points uniformly over bounds. A zero seed
// uses the current time.
func GenerateTestPoints(n int, bounds Rect, seed int64) []Point {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	points := make([]Point, n)

	for i := 0; i < n; i++ {
		lat := bounds.South + rng.Float64()*(bounds.North-bounds.South)
		lon := bounds.West + rng.Float64()*(bounds.East-bounds.West)

		points[i] = Point{
			ID:        fmt.Sprintf("pt-%d", i+1),
			Latitude:  lat,
			Longitude: lon,
			Title:     fmt.Sprintf("Point %d", i+1),
			Metadata: map[string]interface{}{
				"value":    rng.Float64() * 100,
				"category": []string{"A", "B", "C"}[rng.Intn(3)],
			},
		}
	}

	return points
}
