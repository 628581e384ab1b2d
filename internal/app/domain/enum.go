// Package domain holds helpers shared by the domain model packages.
package domain

import (
	"encoding/json"
	"strings"
)

// MarshalEnum renders an enum value in lowercase for API responses.
func MarshalEnum(value string) ([]byte, error) {
	return json.Marshal(strings.ToLower(value))
}

// UnmarshalEnum accepts any casing and returns the canonical uppercase value.
func UnmarshalEnum(data []byte) (string, error) {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return strings.ToUpper(strings.TrimSpace(raw)), nil
}
