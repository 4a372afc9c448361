package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateSessionID generates a unique session ID
func GenerateSessionID() string {
	return fmt.Sprintf("session_%s", uuid.NewString())
}

// GenerateRequesterID generates a unique requester identity
func GenerateRequesterID() string {
	return fmt.Sprintf("requester_%s", uuid.NewString())
}
