package timezone

import "time"

// Location is the timezone game dates are reported in.
var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
}

func Now() time.Time {
	return time.Now().In(Location)
}

// ParseDate reads a compact YYYYMMDD date as midnight in Location.
func ParseDate(yyyymmdd string) (time.Time, error) {
	return time.ParseInLocation("20060102", yyyymmdd, Location)
}
