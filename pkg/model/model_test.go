package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveARRPriorityChain(t *testing.T) {
	cases := []struct {
		name string
		acc  Account
		want float64
	}{
		{"hierarchy wins", Account{HierarchyBookingsARRConverted: 300, CalculatedARR: 200, ARR: 100}, 300},
		{"calculated wins when hierarchy zero", Account{CalculatedARR: 200, ARR: 100}, 200},
		{"arr is last resort", Account{ARR: 100}, 100},
		{"all zero", Account{}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.acc.EffectiveARR())
		})
	}
}

func TestEffectiveATRPriorityChain(t *testing.T) {
	assert.Equal(t, 50.0, Account{CalculatedATR: 50, ATR: 10}.EffectiveATR())
	assert.Equal(t, 10.0, Account{ATR: 10}.EffectiveATR())
	assert.Equal(t, 0.0, Account{}.EffectiveATR())
}

func TestAccountIsRoot(t *testing.T) {
	assert.True(t, Account{AccountID: "a1", UltimateParentID: "a1"}.IsRoot())
	assert.True(t, Account{AccountID: "a1"}.IsRoot())
	assert.False(t, Account{AccountID: "a1", UltimateParentID: "a0"}.IsRoot())
}

func TestCohortOf(t *testing.T) {
	assert.Equal(t, CohortCustomer, Account{IsCustomer: true}.CohortOf())
	assert.Equal(t, CohortProspect, Account{IsCustomer: false}.CohortOf())
}

func TestSalesRepEligibleForThresholdDivisor(t *testing.T) {
	eligible := SalesRep{IsActive: true, IncludeInAssignments: true, Region: "West"}
	assert.True(t, eligible.EligibleForThresholdDivisor())

	assert.False(t, SalesRep{IsActive: false, IncludeInAssignments: true, Region: "West"}.EligibleForThresholdDivisor())
	assert.False(t, SalesRep{IsActive: true, IncludeInAssignments: false, Region: "West"}.EligibleForThresholdDivisor())
	assert.False(t, SalesRep{IsActive: true, IncludeInAssignments: true, IsStrategicRep: true, Region: "West"}.EligibleForThresholdDivisor())
	assert.False(t, SalesRep{IsActive: true, IncludeInAssignments: true, Region: ""}.EligibleForThresholdDivisor())
}

func TestSalesRepValidInvariant(t *testing.T) {
	assert.True(t, SalesRep{IsBackfillSource: true, IncludeInAssignments: false}.Valid())
	assert.False(t, SalesRep{IsBackfillSource: true, IncludeInAssignments: true}.Valid())
}

func TestFiscalQuarterDefaultFebruaryStart(t *testing.T) {
	cases := []struct {
		month time.Month
		want  RenewalQuarter
	}{
		{time.February, Q1},
		{time.March, Q1},
		{time.April, Q1},
		{time.May, Q2},
		{time.August, Q3},
		{time.November, Q4},
		{time.January, Q4},
	}
	for _, c := range cases {
		got := FiscalQuarter(time.Date(2026, c.month, 15, 0, 0, 0, 0, time.UTC), 2)
		assert.Equal(t, c.want, got, "month %s", c.month)
	}
}

func TestFiscalQuarterZeroValue(t *testing.T) {
	assert.Equal(t, NoneQtr, FiscalQuarter(time.Time{}, 2))
}

func TestFiscalQuarterCalendarYearStart(t *testing.T) {
	assert.Equal(t, Q1, FiscalQuarter(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), 1))
	assert.Equal(t, Q4, FiscalQuarter(time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC), 1))
}
