// Package firetime computes the UTC instants at which yearly events fire.
//
// An event is defined by an anniversary date (only month/day are meaningful),
// an IANA timezone, and a local wall-clock time of day. The resolver projects
// that local wall-clock onto a target calendar year and converts to UTC.
//
// Calendar normalization is delegated to the Go time package: Feb 29 in a
// non-leap target year normalizes to Mar 1, and local times falling inside a
// DST gap resolve to the adjusted instant the timezone database produces.
// Both behaviors are deterministic and pinned by tests.
package firetime

import (
	"fmt"
	"time"
)

// DateLayout is the anniversary date format (the year component is historical).
const DateLayout = "2006-01-02"

// LocalTimeLayout is the 24h wall-clock format for notify times.
const LocalTimeLayout = "15:04"

// ForYear computes the UTC instant of the event's occurrence in the given
// calendar year: (month/day of date, localHHMM) interpreted in ianaTz.
//
// An invalid timezone, date, or time is a hard failure reported to the caller.
func ForYear(date, ianaTz, localHHMM string, year int) (time.Time, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("firetime: invalid date %q: %w", date, err)
	}
	hm, err := time.Parse(LocalTimeLayout, localHHMM)
	if err != nil {
		return time.Time{}, fmt.Errorf("firetime: invalid local time %q: %w", localHHMM, err)
	}
	loc, err := time.LoadLocation(ianaTz)
	if err != nil {
		return time.Time{}, fmt.Errorf("firetime: invalid timezone %q: %w", ianaTz, err)
	}

	local := time.Date(year, d.Month(), d.Day(), hm.Hour(), hm.Minute(), 0, 0, loc)
	return local.UTC(), nil
}

// Next computes the next future occurrence of the event relative to the
// reference instant.
//
// The candidate is first projected onto the reference's UTC year. If the
// candidate is at or before the reference (strict comparison: exact equality
// is not in the future), the occurrence in the following year is returned
// instead. Successive advances are strictly increasing.
func Next(date, ianaTz, localHHMM string, reference time.Time) (time.Time, error) {
	year := reference.UTC().Year()

	candidate, err := ForYear(date, ianaTz, localHHMM, year)
	if err != nil {
		return time.Time{}, err
	}

	if !candidate.After(reference) {
		candidate, err = ForYear(date, ianaTz, localHHMM, year+1)
		if err != nil {
			return time.Time{}, err
		}
	}

	return candidate, nil
}
