//go:build !debug

package tally

// checkCount clamps a negative tally to zero in production builds.
func checkCount(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
