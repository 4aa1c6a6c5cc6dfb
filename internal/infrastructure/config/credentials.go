package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Credentials are STOMP login credentials kept outside the main config,
// typically written by a secrets agent and rotated in place.
type Credentials struct {
	Login    string `yaml:"login"`
	Passcode string `yaml:"passcode"`
}

// LoadCredentials reads a credentials YAML file.
//
// Example file:
//
//	login: bridge
//	passcode: s3cret
//
// Returns:
//   - Credentials: The parsed credentials
//   - error: If the file cannot be read or parsed, or login is empty
func LoadCredentials(path string) (Credentials, error) {
	var creds Credentials

	data, err := os.ReadFile(path)
	if err != nil {
		return creds, fmt.Errorf("reading credentials file: %w", err)
	}
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return creds, fmt.Errorf("parsing credentials file: %w", err)
	}
	if creds.Login == "" {
		return creds, errors.New("credentials file: login is required")
	}
	return creds, nil
}
