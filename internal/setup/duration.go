package setup

import "time"

// hoursOrZero converts a config hour count to a duration, leaving zero for
// component defaults.
func hoursOrZero(hours int) time.Duration {
	return time.Duration(hours) * time.Hour
}

// minutesOrZero converts a config minute count to a duration, leaving zero
// for component defaults.
func minutesOrZero(minutes int) time.Duration {
	return time.Duration(minutes) * time.Minute
}
