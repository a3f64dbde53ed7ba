//go:build debug

package tally

import (
	"fmt"

	"github.com/jason-s-yu/livehub/internal/models"
)

// checkCount fails loudly on a negative tally in debug builds.
func checkCount(n int) int {
	if n < 0 {
		panic(fmt.Errorf("%w: negative tally %d", models.ErrInvariant, n))
	}
	return n
}
