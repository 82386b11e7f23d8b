package platform

// ViewerCount is a viewer reading that is either observed from the platform or failed.
// A failed reading has no value; callers cannot confuse it with a real zero.
type ViewerCount struct {
	value  int
	ok     bool
	reason string
}

// Observed wraps a value the platform actually reported (zero included).
func Observed(n int) ViewerCount {
	return ViewerCount{value: n, ok: true}
}

// FailedCount marks a reading that could not be obtained.
func FailedCount(reason string) ViewerCount {
	if reason == "" {
		reason = "viewer count unavailable"
	}
	return ViewerCount{reason: reason}
}

// Get returns the value and whether it was observed.
func (v ViewerCount) Get() (int, bool) {
	return v.value, v.ok
}

// Failed reports whether the reading is a failure placeholder.
func (v ViewerCount) Failed() bool { return !v.ok }

// Reason is the failure reason, empty for observed readings.
func (v ViewerCount) Reason() string { return v.reason }
