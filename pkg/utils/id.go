package utils

import (
	"github.com/google/uuid"
)

// GenerateID generates a random ID with prefix
func GenerateID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// GenerateRequestID generates a unique request ID for the admin API
func GenerateRequestID() string {
	return GenerateID("req")
}

// GenerateInstanceID generates the id this process uses in shared stores
func GenerateInstanceID() string {
	return GenerateID("gw")
}
