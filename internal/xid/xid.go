package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a random identifier tagged with a short entity prefix so ids
// stay readable in logs and audit rows.
func New(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
