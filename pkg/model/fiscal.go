package model

import "time"

// FiscalQuarter derives the RenewalQuarter for a renewal date given the
// configured fiscal-year start month (spec: fiscal year begins February 1
// by default, i.e. FiscalYearStartMonth == 2).
func FiscalQuarter(renewal time.Time, fiscalYearStartMonth int) RenewalQuarter {
	if renewal.IsZero() {
		return NoneQtr
	}
	if fiscalYearStartMonth < 1 || fiscalYearStartMonth > 12 {
		fiscalYearStartMonth = 2
	}
	monthsSinceFYStart := int(renewal.Month()) - fiscalYearStartMonth
	if monthsSinceFYStart < 0 {
		monthsSinceFYStart += 12
	}
	switch monthsSinceFYStart / 3 {
	case 0:
		return Q1
	case 1:
		return Q2
	case 2:
		return Q3
	default:
		return Q4
	}
}
