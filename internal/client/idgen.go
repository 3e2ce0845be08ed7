package client

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateStreamID returns a unique, human-sortable stream identifier.
func GenerateStreamID() string {
	timestamp := time.Now().Format("20060102-150405")
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("stream-%s-%s", timestamp, suffix)
}
