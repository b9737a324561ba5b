// Package calibrate implements the Threshold Calibrator (C1): it converts
// the raw cohort-filtered account pool into per-dimension capacity bands.
package calibrate

import (
	"math"

	"github.com/dataparency-dev/territory-assign/internal/apperrors"
	"github.com/dataparency-dev/territory-assign/pkg/model"
)

// Calibrate accumulates totals across accounts in a single, stable-order
// pass and derives {target, min, max} bands per dimension. The divisor is
// the number of reps eligible per
// model.SalesRep.EligibleForThresholdDivisor; a zero count is fatal.
func Calibrate(accounts []model.Account, reps []model.SalesRep, cfg model.Configuration) (model.CalibratedThresholds, []model.Warning, error) {
	var normalCount int
	var warnings []model.Warning
	for _, r := range reps {
		if r.EligibleForThresholdDivisor() {
			normalCount++
		} else if r.IsActive && r.IncludeInAssignments {
			warnings = append(warnings, model.Warning{
				Code:     model.WarnExcludedFromThresholdCalc,
				Severity: model.SeverityLow,
				RepID:    r.RepID,
				Message:  "excluded from threshold calibration divisor (strategic or missing region)",
			})
		}
	}
	if normalCount == 0 {
		return model.CalibratedThresholds{}, warnings, apperrors.NoEligibleReps("no active, non-strategic reps with a region to calibrate thresholds against")
	}

	var totals struct {
		arr, atr, cre, tier1, tier2 float64
		q1, q2, q3, q4              float64
	}
	for _, a := range accounts {
		totals.arr += a.EffectiveARR()
		totals.atr += a.EffectiveATR()
		totals.cre += float64(a.CRECount)
		if a.Tier == model.TierOne {
			totals.tier1++
		}
		if a.Tier == model.TierTwo {
			totals.tier2++
		}
		switch a.RenewalQuarter {
		case model.Q1:
			totals.q1++
		case model.Q2:
			totals.q2++
		case model.Q3:
			totals.q3++
		case model.Q4:
			totals.q4++
		}
	}

	n := float64(normalCount)
	variance := cfg.CapacityVariancePercent
	renewalVariance := cfg.RenewalConcentrationMax

	thresholds := model.CalibratedThresholds{
		ARR:            band(totals.arr, n, variance),
		ATR:            band(totals.atr, n, variance),
		CRE:            band(totals.cre, n, variance),
		Tier1:          band(totals.tier1, n, variance),
		Tier2:          band(totals.tier2, n, variance),
		Q1:             band(totals.q1, n, renewalVariance),
		Q2:             band(totals.q2, n, renewalVariance),
		Q3:             band(totals.q3, n, renewalVariance),
		Q4:             band(totals.q4, n, renewalVariance),
		NormalRepCount: normalCount,
	}
	thresholds.Totals.ARR = totals.arr
	thresholds.Totals.ATR = totals.atr
	thresholds.Totals.CRE = totals.cre
	thresholds.Totals.Tier1 = totals.tier1
	thresholds.Totals.Tier2 = totals.tier2
	thresholds.Totals.Q1, thresholds.Totals.Q2, thresholds.Totals.Q3, thresholds.Totals.Q4 = totals.q1, totals.q2, totals.q3, totals.q4

	return thresholds, warnings, nil
}

// band takes the variance as a percentage and scales by (100 ± pct) / 100,
// so that exact results such as 1.5M * 110% are not pushed past an integer
// by float rounding before the floor/ceil.
func band(total, n, variancePercent float64) model.Band {
	target := total / n
	return model.Band{
		Target: target,
		Min:    math.Floor(target * (100 - variancePercent) / 100),
		Max:    math.Ceil(target * (100 + variancePercent) / 100),
	}
}
