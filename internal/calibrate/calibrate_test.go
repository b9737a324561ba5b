package calibrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataparency-dev/territory-assign/internal/apperrors"
	"github.com/dataparency-dev/territory-assign/pkg/model"
)

func normalRep(id, region string) model.SalesRep {
	return model.SalesRep{RepID: id, Region: region, IsActive: true, IncludeInAssignments: true}
}

func TestCalibrateDivisorScenario(t *testing.T) {
	// 100 accounts totalling 50 CREs, 50 active normal reps with regions,
	// 3 reps without regions, 2 strategic reps.
	var accounts []model.Account
	for i := 0; i < 100; i++ {
		accounts = append(accounts, model.Account{AccountID: "a", CRECount: 0})
	}
	for i := 0; i < 50; i++ {
		accounts[i].CRECount = 1
	}

	var reps []model.SalesRep
	for i := 0; i < 50; i++ {
		reps = append(reps, normalRep("normal", "West"))
	}
	for i := 0; i < 3; i++ {
		reps = append(reps, model.SalesRep{RepID: "no-region", IsActive: true, IncludeInAssignments: true})
	}
	for i := 0; i < 2; i++ {
		reps = append(reps, model.SalesRep{RepID: "strategic", IsActive: true, IncludeInAssignments: true, IsStrategicRep: true})
	}

	cfg := model.Configuration{CapacityVariancePercent: 15, RenewalConcentrationMax: 20}
	thresholds, warnings, err := Calibrate(accounts, reps, cfg)
	require.NoError(t, err)

	assert.Equal(t, 50, thresholds.NormalRepCount)
	assert.InDelta(t, 1.0, thresholds.CRE.Target, 1e-6)
	assert.Len(t, warnings, 5)
	for _, w := range warnings {
		assert.Equal(t, model.WarnExcludedFromThresholdCalc, w.Code)
	}
}

func TestCalibrateFailsWithNoEligibleReps(t *testing.T) {
	cfg := model.Configuration{CapacityVariancePercent: 15}
	_, _, err := Calibrate(nil, []model.SalesRep{{RepID: "strategic-only", IsActive: true, IncludeInAssignments: true, IsStrategicRep: true}}, cfg)
	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apperrors.TypeNoEligibleReps, appErr.Type)
}

func TestCalibrateBandFloorAndCeil(t *testing.T) {
	accounts := []model.Account{{ARR: 1_000_000}, {ARR: 1_000_000}, {ARR: 1_000_000}}
	reps := []model.SalesRep{normalRep("r1", "West"), normalRep("r2", "West")}
	cfg := model.Configuration{CapacityVariancePercent: 10}

	thresholds, _, err := Calibrate(accounts, reps, cfg)
	require.NoError(t, err)

	assert.InDelta(t, 1_500_000.0, thresholds.ARR.Target, 1e-6)
	assert.Equal(t, 1_350_000.0, thresholds.ARR.Min)
	assert.Equal(t, 1_650_000.0, thresholds.ARR.Max)
}

func TestCalibrateUsesEffectiveARRChain(t *testing.T) {
	accounts := []model.Account{{HierarchyBookingsARRConverted: 500, CalculatedARR: 100, ARR: 1}}
	reps := []model.SalesRep{normalRep("r1", "West")}
	thresholds, _, err := Calibrate(accounts, reps, model.Configuration{CapacityVariancePercent: 10})
	require.NoError(t, err)
	assert.InDelta(t, 500.0, thresholds.Totals.ARR, 1e-6)
}
