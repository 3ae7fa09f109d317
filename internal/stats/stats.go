/*
PURPOSE:
  Statistical aggregation of per-run samples into per-combination records.
  Pure functions; no I/O.

REQUIREMENTS:
  User-specified:
  - mean, median, p90, min, max, standard deviation for decode and
    prefill throughput, plus mean wall time and token counts.
  - Every combination yields exactly one aggregate, even with zero
    usable samples.

  Implementation-discovered:
  - p90 needs a fixed, documented interpolation method.
  - Degenerate samples (zero tokens/duration) count as runs but are
    excluded from throughput distributions.

ARCHITECTURE INTEGRATION:
  - Called by: internal/sweep
  - Consumes/produces: internal/model types.

ERROR HANDLING:
  - None; empty input produces the NoData sentinel, never an error.

IMPLEMENTATION RULES:
  - Population standard deviation; 0 when fewer than 2 samples.
  - Percentile: linear interpolation between closest ranks.
  - Never emit NaN or Inf into the sinks.

USAGE:
  agg := stats.Aggregate(config, cycle, samples)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Keep the percentile method in sync with its doc comment and test.
*/

package stats

import (
	"math"
	"sort"

	"github.com/mcabrer/ollama-sweep/internal/model"
)

// NoData is the sentinel written for every statistic of a combination
// that produced zero usable samples. Run/success counts disambiguate it.
const NoData = -1.0

// Mean returns the arithmetic mean of values, or NoData for empty input.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return NoData
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Median returns the middle value (average of the two middle values for
// even counts), or NoData for empty input.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return NoData
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Percentile returns the p-th percentile (0..100) using linear
// interpolation between closest ranks: rank = p/100 * (n-1). Chosen over
// nearest-rank because it degrades smoothly for the small sample counts
// (3-5 runs) a sweep typically collects. Returns NoData for empty input.
func Percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return NoData
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}

	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Stddev returns the population standard deviation, 0 when fewer than 2
// values, NoData for empty input.
func Stddev(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return NoData
	}
	if n < 2 {
		return 0
	}
	mean := Mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n))
}

// Min returns the smallest value, or NoData for empty input.
func Min(values []float64) float64 {
	if len(values) == 0 {
		return NoData
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest value, or NoData for empty input.
func Max(values []float64) float64 {
	if len(values) == 0 {
		return NoData
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Summarize computes the full statistic set for one distribution.
func Summarize(values []float64) model.Stats {
	return model.Stats{
		Mean:   Mean(values),
		Median: Median(values),
		P90:    Percentile(values, 90),
		Min:    Min(values),
		Max:    Max(values),
		Stddev: Stddev(values),
	}
}

// Aggregate derives one aggregate record from all samples sharing one
// RunConfig within one cycle. Failed samples count towards FailureCount
// only; degenerate samples count as successful runs but are excluded from
// the throughput distributions.
func Aggregate(host, modelName, sweepID string, cfg model.RunConfig, cycle int, samples []model.Sample) model.Aggregate {
	agg := model.Aggregate{
		SweepID: sweepID,
		Host:    host,
		Model:   modelName,
		Config:  cfg,
		Cycle:   cycle,
	}

	var decode, prefill, wall, prefillTok, decodeTok []float64

	for _, s := range samples {
		agg.RunCount++
		if !s.Success {
			agg.FailureCount++
			continue
		}
		agg.SuccessCount++
		wall = append(wall, s.WallTimeS)
		prefillTok = append(prefillTok, float64(s.PrefillTokens))
		decodeTok = append(decodeTok, float64(s.DecodeTokens))
		if s.Degenerate {
			agg.DegenerateCount++
			continue
		}
		decode = append(decode, s.DecodeTPS)
		prefill = append(prefill, s.PrefillTPS)
	}

	agg.Decode = Summarize(decode)
	agg.Prefill = Summarize(prefill)
	agg.MeanWallTimeS = zeroIfNoData(Mean(wall))
	agg.MeanPrefillTokens = zeroIfNoData(Mean(prefillTok))
	agg.MeanDecodeTokens = zeroIfNoData(Mean(decodeTok))

	return agg
}

// zeroIfNoData keeps the mean columns simple: a combination with no
// successful run reports 0 tokens / 0 wall time rather than the sentinel,
// since SuccessCount already tells the story.
func zeroIfNoData(v float64) float64 {
	if v == NoData {
		return 0
	}
	return v
}
