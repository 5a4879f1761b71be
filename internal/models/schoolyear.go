package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SchoolYearOf returns the YYYY-YYYY school year containing the date,
// pivoting on September.
func SchoolYearOf(date time.Time) string {
	year := date.Year()
	if date.Month() < time.September {
		year--
	}
	return fmt.Sprintf("%d-%d", year, year+1)
}

// SchoolYearStart parses the starting calendar year of a YYYY-YYYY string.
func SchoolYearStart(schoolYear string) (int, error) {
	parts := strings.SplitN(schoolYear, "-", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed school year %q", schoolYear)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed school year %q", schoolYear)
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil || end != start+1 {
		return 0, fmt.Errorf("malformed school year %q", schoolYear)
	}
	return start, nil
}

// SchoolYearWindow is the [from, to] date range covered by a school year:
// 1 September through 31 August.
func SchoolYearWindow(schoolYear string) (from, to time.Time, err error) {
	start, err := SchoolYearStart(schoolYear)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	from = time.Date(start, time.September, 1, 0, 0, 0, 0, time.UTC)
	to = time.Date(start+1, time.August, 31, 23, 59, 59, 0, time.UTC)
	return from, to, nil
}
