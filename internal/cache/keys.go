package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// JobStatusKey scopes the status mirror to the job's owner, so a cache hit
// implies ownership without a database read.
func JobStatusKey(ownerID, jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s:%s", ownerID, jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
