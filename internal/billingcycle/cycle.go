// Package billingcycle computes rolling N-day cycle boundaries from an
// account anchor. Every function here is pure.
package billingcycle

import "time"

const DefaultCycleLengthDays = 30

// NextReset returns the first boundary strictly after now. Boundaries are
// the anchor's UTC midnight plus whole multiples of cycleLengthDays; a now
// sitting exactly on a boundary resolves to the following one.
func NextReset(anchor time.Time, cycleLengthDays int, now time.Time) time.Time {
	if cycleLengthDays <= 0 {
		cycleLengthDays = DefaultCycleLengthDays
	}
	start := Midnight(anchor)
	now = now.UTC()
	if now.Before(start) {
		return start
	}

	days := int(now.Sub(start) / (24 * time.Hour))
	cycles := days/cycleLengthDays + 1
	next := start.AddDate(0, 0, cycles*cycleLengthDays)
	// AddDate is calendar based; guard against an off-by-one from the division.
	for !next.After(now) {
		next = next.AddDate(0, 0, cycleLengthDays)
	}
	return next
}

// CycleStart returns the boundary that opened the cycle containing now.
func CycleStart(anchor time.Time, cycleLengthDays int, now time.Time) time.Time {
	if cycleLengthDays <= 0 {
		cycleLengthDays = DefaultCycleLengthDays
	}
	start := Midnight(anchor)
	if now.UTC().Before(start) {
		return start
	}
	return NextReset(anchor, cycleLengthDays, now).AddDate(0, 0, -cycleLengthDays)
}

// Due reports whether the cycle opened at anchor has ended by now.
func Due(anchor time.Time, cycleLengthDays int, now time.Time) bool {
	if cycleLengthDays <= 0 {
		cycleLengthDays = DefaultCycleLengthDays
	}
	return !Midnight(anchor).AddDate(0, 0, cycleLengthDays).After(now.UTC())
}

// Midnight truncates t to 00:00 UTC of its calendar day.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
