package ledger

import "time"

// DayLayout is the key format of a calendar day.
const DayLayout = "2006-01-02"

// Calendar resolves "today" in the reward's local time zone.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// NewCalendar returns a calendar in loc. A nil now uses time.Now.
func NewCalendar(loc *time.Location, now func() time.Time) *Calendar {
	if loc == nil {
		loc = DefaultLocation()
	}
	if now == nil {
		now = time.Now
	}
	return &Calendar{loc: loc, now: now}
}

// DefaultLocation is UTC+8.
func DefaultLocation() *time.Location {
	return time.FixedZone("UTC+8", 8*60*60)
}

// LoadLocation loads a named zone, falling back to UTC+8 when the zone
// database is unavailable.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return DefaultLocation()
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return DefaultLocation()
	}
	return loc
}

func (c *Calendar) Now() time.Time {
	return c.now().In(c.loc)
}

// Today returns the current local day key.
func (c *Calendar) Today() string {
	return c.Now().Format(DayLayout)
}

// DayOf returns the local day key of t.
func (c *Calendar) DayOf(t time.Time) string {
	return t.In(c.loc).Format(DayLayout)
}

// UntilEndOf returns the time left until local midnight ending day. It is
// never less than one second so keys written late still get a TTL.
func (c *Calendar) UntilEndOf(day string) time.Duration {
	start, err := time.ParseInLocation(DayLayout, day, c.loc)
	if err != nil {
		return time.Second
	}
	left := start.AddDate(0, 0, 1).Sub(c.now())
	if left < time.Second {
		return time.Second
	}
	return left
}
