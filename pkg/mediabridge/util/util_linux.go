package util

// getCurrentWindowProcessNames has no Linux implementation; callers treat
// nil, nil as "focus unknown".
func getCurrentWindowProcessNames() ([]string, error) {
	return nil, nil
}
