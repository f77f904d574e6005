package ledger

import "time"

const dateLayout = "2006-01-02"

// DayClock maps instants to logical days that start at BoundaryHour in
// Location. With BoundaryHour=2, 01:30 still belongs to the previous day.
type DayClock struct {
	BoundaryHour int
	Location     *time.Location
	Now          func() time.Time
}

func (c DayClock) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Today returns the current logical date as YYYY-MM-DD.
func (c DayClock) Today() string {
	return c.DateOf(c.now())
}

// DateOf returns the logical date of t.
func (c DayClock) DateOf(t time.Time) string {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	if t.Hour() < c.BoundaryHour {
		t = t.AddDate(0, 0, -1)
	}
	return t.Format(dateLayout)
}
