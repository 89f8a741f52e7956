// Package trigger evaluates free-text special session triggers against
// calendar dates.
//
// A trigger is parsed once into a tagged variant. Text that matches no rule
// parses to KindNone, which never fires and never errors.
package trigger

import (
	"regexp"
	"strings"
	"time"
)

// Kind identifies which rule a trigger resolved to.
type Kind int

const (
	KindNone Kind = iota
	KindOptionsExpiration
	KindFOMC
	KindCPI
	KindNonFarmPayrolls
	KindFirstFriday
	KindEarningsSeason
	KindLiteralDate
	KindWeekday
	KindFirstDayOfMonth
	KindLastDayOfMonth
)

var kindNames = map[Kind]string{
	KindNone:              "none",
	KindOptionsExpiration: "options_expiration",
	KindFOMC:              "fomc",
	KindCPI:               "cpi",
	KindNonFarmPayrolls:   "non_farm_payrolls",
	KindFirstFriday:       "first_friday",
	KindEarningsSeason:    "earnings_season",
	KindLiteralDate:       "literal_date",
	KindWeekday:           "weekday",
	KindFirstDayOfMonth:   "first_day_of_month",
	KindLastDayOfMonth:    "last_day_of_month",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Trigger is a parsed trigger description.
type Trigger struct {
	Kind Kind
	Text string

	// Set for KindLiteralDate.
	Year  int
	Month time.Month
	Day   int

	// Set for KindWeekday.
	Weekday time.Weekday
}

// Recognized reports whether any rule matched the trigger text.
func (t Trigger) Recognized() bool {
	return t.Kind != KindNone
}

// fomcMonths are the months that carry a scheduled FOMC policy meeting.
var fomcMonths = map[time.Month]bool{
	time.January: true, time.March: true, time.May: true, time.June: true,
	time.July: true, time.September: true, time.November: true, time.December: true,
}

var earningsMonths = map[time.Month]bool{
	time.January: true, time.April: true, time.July: true, time.October: true,
}

var (
	literalDateRe = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	everyDayRe    = regexp.MustCompile(`\bevery\s+(sunday|monday|tuesday|wednesday|thursday|friday|saturday)s?\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// Parse resolves trigger text to the first rule it matches.
func Parse(text string) Trigger {
	t := Trigger{Text: text}
	s := strings.ToLower(text)

	switch {
	case strings.Contains(s, "options expiration") || strings.Contains(s, "opex"):
		t.Kind = KindOptionsExpiration
	case strings.Contains(s, "fomc"):
		t.Kind = KindFOMC
	case strings.Contains(s, "cpi"):
		t.Kind = KindCPI
	case strings.Contains(s, "non-farm") || strings.Contains(s, "nfp"):
		t.Kind = KindNonFarmPayrolls
	case strings.Contains(s, "first friday"):
		t.Kind = KindFirstFriday
	case strings.Contains(s, "earnings season"):
		t.Kind = KindEarningsSeason
	default:
		parseCalendar(&t, s)
	}
	return t
}

func parseCalendar(t *Trigger, s string) {
	if m := literalDateRe.FindStringSubmatch(s); m != nil {
		d, err := time.Parse("2006-01-02", m[0])
		if err == nil {
			t.Kind = KindLiteralDate
			t.Year, t.Month, t.Day = d.Date()
			return
		}
	}
	if m := everyDayRe.FindStringSubmatch(s); m != nil {
		t.Kind = KindWeekday
		t.Weekday = weekdays[m[1]]
		return
	}
	switch {
	case strings.Contains(s, "first day of month") || strings.Contains(s, "first day of the month"):
		t.Kind = KindFirstDayOfMonth
	case strings.Contains(s, "last day of month") || strings.Contains(s, "last day of the month"):
		t.Kind = KindLastDayOfMonth
	default:
		t.Kind = KindNone
	}
}

// Matches reports whether the trigger fires on the calendar date of d.
// Only the date part in d's own location is considered.
func (t Trigger) Matches(d time.Time) bool {
	day := d.Day()
	wd := d.Weekday()

	switch t.Kind {
	case KindOptionsExpiration:
		return wd == time.Friday && day >= 15 && day <= 21
	case KindFOMC:
		return fomcMonths[d.Month()] && wd == time.Wednesday && day >= 15 && day <= 28
	case KindCPI:
		return (wd == time.Tuesday || wd == time.Wednesday) && day >= 10 && day <= 14
	case KindNonFarmPayrolls, KindFirstFriday:
		return wd == time.Friday && day <= 7
	case KindEarningsSeason:
		return earningsMonths[d.Month()] && day >= 10 && day <= 15
	case KindLiteralDate:
		y, m, dd := d.Date()
		return y == t.Year && m == t.Month && dd == t.Day
	case KindWeekday:
		return wd == t.Weekday
	case KindFirstDayOfMonth:
		return day == 1
	case KindLastDayOfMonth:
		return d.AddDate(0, 0, 1).Day() == 1
	default:
		return false
	}
}

// Matches parses text and evaluates it against d.
func Matches(text string, d time.Time) bool {
	return Parse(text).Matches(d)
}
