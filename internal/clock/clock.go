// Package clock abstracts wall-clock access so schedulers and tests can
// control timestamps.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}
