package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule is a standard 5-field cron expression:
// minute hour day-of-month month day-of-week. Every field must match,
// including day-of-month and day-of-week together.
//
//   - "*/5 * * * *"  every 5 minutes
//   - "30 3 * * *"   every day at 03:30
//   - "0 8-20/4 * * 1-5"  weekdays at 08, 12, 16 and 20
type CronSchedule struct {
	raw      string
	loc      *time.Location
	minutes  uint64
	hours    uint64
	days     uint64
	months   uint64
	weekdays uint64
}

type cronField struct {
	name     string
	min, max int
}

var cronFields = [5]cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

// ParseCronSchedule parses expr in loc; a nil loc means UTC.
// Each field accepts *, n, n-m, lists of those, and a /step suffix.
func ParseCronSchedule(expr string, loc *time.Location) (*CronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != len(cronFields) {
		return nil, fmt.Errorf("cron %q: expected 5 fields, got %d", expr, len(fields))
	}
	if loc == nil {
		loc = time.UTC
	}

	var masks [5]uint64
	for i, f := range fields {
		m, err := parseCronField(f, cronFields[i])
		if err != nil {
			return nil, fmt.Errorf("cron %q: %w", expr, err)
		}
		masks[i] = m
	}

	return &CronSchedule{
		raw:      expr,
		loc:      loc,
		minutes:  masks[0],
		hours:    masks[1],
		days:     masks[2],
		months:   masks[3],
		weekdays: masks[4],
	}, nil
}

func parseCronField(field string, def cronField) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(field, ",") {
		m, err := parseCronPart(part, def)
		if err != nil {
			return 0, err
		}
		mask |= m
	}
	return mask, nil
}

func parseCronPart(part string, def cronField) (uint64, error) {
	rangeText, stepText, hasStep := strings.Cut(part, "/")

	step := 1
	if hasStep {
		s, err := strconv.Atoi(stepText)
		if err != nil || s <= 0 {
			return 0, fmt.Errorf("%s: invalid step %q", def.name, stepText)
		}
		step = s
	}

	var lo, hi int
	switch {
	case rangeText == "*":
		lo, hi = def.min, def.max
	case strings.Contains(rangeText, "-"):
		a, b, _ := strings.Cut(rangeText, "-")
		var err error
		if lo, err = strconv.Atoi(a); err != nil {
			return 0, fmt.Errorf("%s: invalid range start %q", def.name, a)
		}
		if hi, err = strconv.Atoi(b); err != nil {
			return 0, fmt.Errorf("%s: invalid range end %q", def.name, b)
		}
	default:
		v, err := strconv.Atoi(rangeText)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid value %q", def.name, rangeText)
		}
		lo, hi = v, v
		// "n/step" runs from n to the end of the field.
		if hasStep {
			hi = def.max
		}
	}

	if lo < def.min || hi > def.max || lo > hi {
		return 0, fmt.Errorf("%s: %q out of range [%d-%d]", def.name, part, def.min, def.max)
	}

	var mask uint64
	for v := lo; v <= hi; v += step {
		mask |= 1 << uint(v)
	}
	return mask, nil
}

// Next returns the first matching minute strictly after t, or the zero time
// when nothing matches within a year (e.g. "0 0 31 2 *").
func (c *CronSchedule) Next(t time.Time) time.Time {
	next := t.In(c.loc).Truncate(time.Minute).Add(time.Minute)

	const horizon = 366 * 24 * 60
	for i := 0; i < horizon; i++ {
		if c.matches(next) {
			return next
		}
		next = next.Add(time.Minute)
	}
	return time.Time{}
}

func (c *CronSchedule) matches(t time.Time) bool {
	return has(c.minutes, t.Minute()) &&
		has(c.hours, t.Hour()) &&
		has(c.days, t.Day()) &&
		has(c.months, int(t.Month())) &&
		has(c.weekdays, int(t.Weekday()))
}

func has(mask uint64, v int) bool { return mask&(1<<uint(v)) != 0 }

// String returns the expression and its zone.
func (c *CronSchedule) String() string {
	if c.loc == time.UTC {
		return c.raw
	}
	return c.raw + " " + c.loc.String()
}
