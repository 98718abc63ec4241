package scheduler

import (
	"sync"
	"time"
)

const marketTimezone = "America/New_York"

var (
	marketLocOnce sync.Once
	marketLoc     *time.Location
)

func marketLocation() *time.Location {
	marketLocOnce.Do(func() {
		loc, err := time.LoadLocation(marketTimezone)
		if err != nil {
			loc = time.UTC
		}
		marketLoc = loc
	})
	return marketLoc
}

// IsMarketOpen reports whether t falls inside regular US trading hours,
// 9:30-16:00 Eastern, Monday through Friday. Live schedules with AutoStop
// are stopped once this turns false.
func IsMarketOpen(t time.Time) bool {
	et := t.In(marketLocation())

	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return false
	}

	minutes := et.Hour()*60 + et.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}
