package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvString retrieves a string from environment variables or returns the default value.
func GetEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvInt retrieves an integer from environment variables or returns the default value.
func GetEnvInt(key string, defaultValue int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}

	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}

// GetEnvBool retrieves a boolean from environment variables or returns the default value.
func GetEnvBool(key string, defaultValue bool) bool {
	val, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return val
}

// GetEnvDuration retrieves a duration from environment variables or returns the default value.
// If the string contains time units (m, h, s), they'll be parsed accordingly.
// Otherwise, the value is interpreted as minutes.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}

	if strings.ContainsAny(valStr, "mhs") {
		val, err := time.ParseDuration(valStr)
		if err != nil {
			return defaultValue
		}
		return val
	}

	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultValue
	}
	return time.Duration(val) * time.Minute
}

// RequireEnv returns the value of the named variable or an error when it is unset or empty.
func RequireEnv(name string) (string, error) {
	if name == "" {
		return "", errMissingEnvName
	}
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", &MissingEnvError{Name: name}
	}
	return value, nil
}

// MissingEnvError reports an unset secret.
type MissingEnvError struct {
	Name string
}

func (e *MissingEnvError) Error() string { return "missing env var: " + e.Name }

type constError string

func (e constError) Error() string { return string(e) }

const errMissingEnvName constError = "secret env var name is not configured"
