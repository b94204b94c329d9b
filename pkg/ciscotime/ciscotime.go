// Package ciscotime parses the timestamps ASA commands print, for example
// "16:04:31.458 PDT Thu Aug 6 2015" in "show clock" or "21:08:43 EST Jan 3 2015"
// in "show failover".
package ciscotime

import (
	"regexp"
	"strconv"
	"time"
)

var timeRegex = regexp.MustCompile(
	`(\d\d):(\d\d):(\d\d)(?:\.(\d\d\d))?\s(.*?)\s(?:(?:Mon|Tue|Wed|Thu|Fri|Sat|Sun)\s)?(\w\w\w)\s(\d\d?)\s(\d\d\d\d)`)

// Parse finds the first timestamp in s. The time is returned as UTC with
// the clock fields taken verbatim; the timezone name is returned separately
// because the appliance's "clock timezone" offsets cannot be resolved
// without asking it.
func Parse(s string) (time.Time, string, bool) {
	m := timeRegex.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, "", false
	}

	month, err := time.Parse("Jan", m[6])
	if err != nil {
		return time.Time{}, "", false
	}

	hour, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	day, _ := strconv.Atoi(m[7])
	year, _ := strconv.Atoi(m[8])
	var msec int
	if m[4] != "" {
		msec, _ = strconv.Atoi(m[4])
	}

	t := time.Date(year, month.Month(), day, hour, min, sec, msec*int(time.Millisecond), time.UTC)
	return t, m[5], true
}
