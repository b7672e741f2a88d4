package quality

// Graceful degradation helpers. These are advisory adjustments used by
// downstream feature consumers to avoid over-penalizing partial data; they
// never gate trading on their own.

const (
	boostCapSuccessRate  = 0.65
	boostCapCorroborated = 0.70
	corroborationBoost   = 0.05
	degradedMeanScore    = 0.60
	maxThresholdShrink   = 0.10
	compositeFloor       = 0.40
	priceDataFloorGate   = 0.80
)

// compositeWeights blends category scores; categories missing from the input
// are skipped and the remaining weights renormalized.
var compositeWeights = map[string]float64{
	"price_data": 0.4,
	"technical":  0.3,
	"external":   0.2,
	"market":     0.1,
}

// ImproveQuality applies bounded boosts to a raw quality score based on the
// source type's recent success rate and corroboration from other source
// types. The result never drops below the input score.
func (m *Monitor) ImproveQuality(score float64, sourceType string) float64 {
	if !m.cfg.GracefulDegradation {
		return score
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	improved := score

	// A source type that succeeds consistently earns back some score even
	// when individual payloads are partial.
	if stats, ok := m.typeWindowStatsLocked(sourceType); ok {
		if stats.MeanSuccessRate >= 0.80 && improved < boostCapSuccessRate {
			factor := m.cfg.QualityImprovementFactor
			if factor < 1.0 {
				factor = 1.0
			}
			improved = improved * factor
			if improved > boostCapSuccessRate {
				improved = boostCapSuccessRate
			}
		}
	}

	// Cross-source corroboration: another healthy source type vouches for
	// market conditions being observable.
	if m.cfg.PartialDataAcceptance && m.hasCorroboratingTypeLocked(sourceType) {
		improved += corroborationBoost
		if improved > boostCapCorroborated {
			improved = boostCapCorroborated
		}
	}

	if improved < score {
		return score
	}
	return improved
}

// typeWindowStatsLocked merges window stats across sources of one type
func (m *Monitor) typeWindowStatsLocked(sourceType string) (WindowStats, bool) {
	var merged WindowStats
	var groups int
	prefix := sourceType + ":"
	for key, ws := range m.windowStats {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		merged.MeanQualityScore += ws.MeanQualityScore
		merged.MeanDefaultRatio += ws.MeanDefaultRatio
		merged.MeanSuccessRate += ws.MeanSuccessRate
		merged.SampleCount += ws.SampleCount
		groups++
	}
	if groups == 0 {
		return WindowStats{}, false
	}
	merged.MeanQualityScore /= float64(groups)
	merged.MeanDefaultRatio /= float64(groups)
	merged.MeanSuccessRate /= float64(groups)
	return merged, true
}

// hasCorroboratingTypeLocked reports whether any other source type currently
// holds a healthy mean quality score
func (m *Monitor) hasCorroboratingTypeLocked(sourceType string) bool {
	prefix := sourceType + ":"
	for key, ws := range m.windowStats {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			continue
		}
		if ws.MeanQualityScore >= 0.80 {
			return true
		}
	}
	return false
}

// AdjustedThreshold shrinks a caller-supplied threshold by up to 10% when the
// trailing mean recorded quality is below 0.6, so consumers keep operating on
// partially degraded data instead of flapping.
func (m *Monitor) AdjustedThreshold(base float64) float64 {
	if !m.cfg.GracefulDegradation {
		return base
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.recentScores) == 0 {
		return base
	}

	var sum float64
	for _, s := range m.recentScores {
		sum += s
	}
	mean := sum / float64(len(m.recentScores))

	if mean >= degradedMeanScore {
		return base
	}

	shrink := maxThresholdShrink * (degradedMeanScore - mean) / degradedMeanScore
	if shrink > maxThresholdShrink {
		shrink = maxThresholdShrink
	}
	return base * (1.0 - shrink)
}

// CompositeQuality blends per-category scores into one overall score.
// Missing categories are skipped with the weights renormalized; a healthy
// price_data feed floors the result at 0.4 since price data alone supports
// most downstream decisions.
func (m *Monitor) CompositeQuality(byCategory map[string]float64) float64 {
	var weighted, totalWeight float64
	for category, score := range byCategory {
		weight, ok := compositeWeights[category]
		if !ok {
			continue
		}
		weighted += score * weight
		totalWeight += weight
	}

	if totalWeight == 0 {
		return 0
	}

	composite := weighted / totalWeight

	if pd, ok := byCategory["price_data"]; ok && pd > priceDataFloorGate && composite < compositeFloor {
		composite = compositeFloor
	}

	return composite
}
