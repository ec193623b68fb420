package store

// SetMaxInArgs lowers the IN chunk size for the duration of a test.
func SetMaxInArgs(n int) (restore func()) {
	prev := maxInArgs
	maxInArgs = n
	return func() { maxInArgs = prev }
}
