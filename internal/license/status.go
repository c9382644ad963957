package license

import "fmt"

// Credentials holds one authentication attempt's login data. The
// session does not retain them after the attempt completes.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TimeRemaining is the server's decomposition of the license time
// balance. TotalMinutes is authoritative; days/hours/minutes exist for
// display only and must satisfy
// TotalMinutes == Days*1440 + Hours*60 + Minutes.
type TimeRemaining struct {
	Days         int `json:"days"`
	Hours        int `json:"hours"`
	Minutes      int `json:"minutes"`
	TotalMinutes int `json:"totalMinutes"`
}

// Consistent reports whether the display decomposition matches the
// authoritative total.
func (tr TimeRemaining) Consistent() bool {
	return tr.TotalMinutes == tr.Days*1440+tr.Hours*60+tr.Minutes
}

// String renders the remaining time for display
func (tr TimeRemaining) String() string {
	return fmt.Sprintf("%dd %dh %dm", tr.Days, tr.Hours, tr.Minutes)
}

// Status is the license state as reported by the server on every
// status check and heartbeat. The client only observes these values;
// it never computes or decrements remaining time locally, so a skewed
// or tampered local clock cannot extend a license.
type Status struct {
	Valid         bool          `json:"valid"`
	Message       string        `json:"message"`
	Plan          string        `json:"plan,omitempty"`
	TimeRemaining TimeRemaining `json:"timeRemaining"`
}

// Expired reports whether this status terminates monitoring: the
// server declared the license invalid, or the time balance reached
// zero even though the valid flag still said otherwise.
func (s Status) Expired() bool {
	return !s.Valid || s.TimeRemaining.TotalMinutes <= 0
}

// CheckResult is the response of the authenticated license check
type CheckResult struct {
	Valid         bool `json:"valid"`
	DaysRemaining int  `json:"days_remaining"`
}
