// Package config holds the NAS connection settings shared by all commands.
package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var portPattern = regexp.MustCompile(`^\d+$`)

// Settings is the connection configuration for one Download Station host.
// A changed Fingerprint invalidates any cached client built from it.
type Settings struct {
	// Secure selects https over http.
	Secure bool `mapstructure:"secure" json:"secure"`

	// Address is the NAS hostname or IP. Required.
	Address string `mapstructure:"address" json:"address"`

	// Port is the HTTP port, numeric-only. Empty means the scheme default.
	Port string `mapstructure:"port" json:"port"`

	// Login and Password authenticate against Download Station.
	Login    string `mapstructure:"login" json:"login"`
	Password string `mapstructure:"password" json:"password"`

	// TempDir is the incomplete-download folder on the NAS.
	TempDir string `mapstructure:"temp_dir" json:"temp_dir"`

	// DestDir is the completed-download folder on the NAS. Optional.
	DestDir string `mapstructure:"dest_dir" json:"dest_dir"`

	// Debug enables verbose request logging.
	Debug bool `mapstructure:"debug" json:"debug"`
}

// Defaults returns the built-in fallback settings.
func Defaults() Settings {
	return Settings{
		Address: "downloadstation.local",
		Port:    "8080",
		Login:   "download",
		TempDir: "/share/Download",
	}
}

// Validate checks the connection fields. It runs before any network call.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("NAS address is empty; set address in settings")
	}
	if p := strings.TrimSpace(s.Port); p != "" && !portPattern.MatchString(p) {
		return fmt.Errorf("invalid NAS port %q: must be numeric or empty", s.Port)
	}
	return nil
}

// BaseURL builds the scheme://host[:port] prefix for all API calls.
func (s Settings) BaseURL() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	scheme := "http"
	if s.Secure {
		scheme = "https"
	}
	hostPort := strings.TrimSpace(s.Address)
	if p := strings.TrimSpace(s.Port); p != "" {
		hostPort += ":" + p
	}
	return scheme + "://" + hostPort, nil
}

// Fingerprint returns a deterministic serialization of the fields that
// affect an established session. Two equal settings values always produce
// the same fingerprint; changing any one field changes it.
func (s Settings) Fingerprint() string {
	b, _ := json.Marshal([]any{
		s.Secure, s.Address, s.Port, s.Login, s.Password, s.TempDir, s.DestDir,
	})
	return string(b)
}
