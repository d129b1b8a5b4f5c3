// Package utils provides small helpers shared across the relay.
package utils

import "os"

// GetEnvWithDefault retrieves an environment variable or returns a default value if not set.
//
// Parameters:
//   - name: The name of the environment variable
//   - defaultValue: The default value to return if the environment variable is not set
//
// Returns the value of the environment variable, or the default value if not set.
func GetEnvWithDefault(name, defaultValue string) string {
	value := os.Getenv(name)
	if value == "" {
		return defaultValue
	}
	return value
}

// MaskToken redacts a credential for logging, keeping just enough of the
// value to correlate log lines against the real token.
func MaskToken(token string) string {
	if len(token) < 10 {
		return "***" // Too short to safely show anything
	}
	return token[:4] + "..." + token[len(token)-4:]
}
