// README: Derives the time-of-day context (peak, weekend, holiday) for a scheduled move.
package pricing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// HourWindow is an inclusive range of clock hours, e.g. 07-09 covers 07:00 through 09:59.
type HourWindow struct {
	From int
	To   int
}

func (w HourWindow) Contains(hour int) bool {
	return hour >= w.From && hour <= w.To
}

type Calendar struct {
	loc      *time.Location
	peaks    []HourWindow
	holidays map[string]struct{}
}

// NewCalendar parses peak windows ("07-09,17-19") and holiday dates (YYYY-MM-DD) in
// the given IANA zone. An empty zone means UTC.
func NewCalendar(peakWindows string, holidays []string, zone string) (*Calendar, error) {
	loc := time.UTC
	if zone != "" {
		l, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("load time zone %q: %w", zone, err)
		}
		loc = l
	}
	peaks, err := ParseHourWindows(peakWindows)
	if err != nil {
		return nil, err
	}
	c := &Calendar{loc: loc, peaks: peaks, holidays: make(map[string]struct{}, len(holidays))}
	for _, h := range holidays {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, err := time.ParseInLocation(time.DateOnly, h, loc); err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h, err)
		}
		c.holidays[h] = struct{}{}
	}
	return c, nil
}

func ParseHourWindows(s string) ([]HourWindow, error) {
	var out []HourWindow
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to, ok := strings.Cut(part, "-")
		if !ok {
			return nil, fmt.Errorf("peak window %q: want HH-HH", part)
		}
		f, err1 := strconv.Atoi(strings.TrimSpace(from))
		t, err2 := strconv.Atoi(strings.TrimSpace(to))
		if err1 != nil || err2 != nil || f < 0 || t > 23 || f > t {
			return nil, fmt.Errorf("peak window %q: want HH-HH within 00-23", part)
		}
		out = append(out, HourWindow{From: f, To: t})
	}
	return out, nil
}

// Context classifies at. The calculator applies only the highest-precedence flag.
func (c *Calendar) Context(at time.Time) TimeContext {
	local := at.In(c.loc)
	_, holiday := c.holidays[local.Format(time.DateOnly)]
	wd := local.Weekday()
	tc := TimeContext{
		IsHoliday: holiday,
		IsWeekend: wd == time.Saturday || wd == time.Sunday,
	}
	for _, w := range c.peaks {
		if w.Contains(local.Hour()) {
			tc.IsPeakHour = true
			break
		}
	}
	return tc
}
