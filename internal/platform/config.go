// Package platform is the client of the remote content platform.
package platform

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Environment variables read by LoadClientConfig.
const (
	EnvBaseURL        = "DEMISTO_BASE_URL"
	EnvAPIKey         = "DEMISTO_API_KEY"
	EnvAuthID         = "XSIAM_AUTH_ID"
	EnvXSIAMToken     = "XSIAM_TOKEN"
	EnvCollectorToken = "XSIAM_COLLECTOR_TOKEN"
	EnvVerifySSL      = "DEMISTO_VERIFY_SSL"
)

// ErrIncompleteConfig is returned by Validate.
var ErrIncompleteConfig = errors.New("incomplete platform configuration")

// ClientConfig holds the settings of one platform connection.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	// AuthID identifies the api key on XSIAM tenants.
	AuthID         string
	XSIAMToken     string
	CollectorToken string
	VerifySSL      bool
}

// LoadClientConfig reads the configuration from the environment. SSL is
// verified unless DEMISTO_VERIFY_SSL is false.
func LoadClientConfig() (ClientConfig, error) {
	cfg := ClientConfig{
		BaseURL:        os.Getenv(EnvBaseURL),
		APIKey:         os.Getenv(EnvAPIKey),
		AuthID:         os.Getenv(EnvAuthID),
		XSIAMToken:     os.Getenv(EnvXSIAMToken),
		CollectorToken: os.Getenv(EnvCollectorToken),
		VerifySSL:      true,
	}
	if v := os.Getenv(EnvVerifySSL); v != "" {
		verify, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvVerifySSL, err)
		}
		cfg.VerifySSL = verify
	}
	return cfg, nil
}

// Validate requires a base url and an api key.
func (c ClientConfig) Validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, EnvBaseURL)
	}
	if c.APIKey == "" {
		missing = append(missing, EnvAPIKey)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteConfig, strings.Join(missing, ", "))
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: invalid base url %q", ErrIncompleteConfig, c.BaseURL)
	}
	return nil
}

// Fingerprint identifies the api key without revealing it.
func (c ClientConfig) Fingerprint() string {
	sum := sha256.Sum256([]byte(c.APIKey))
	return hex.EncodeToString(sum[:])[:12]
}

// poolKey identifies the clients that can be shared.
func (c ClientConfig) poolKey() string {
	return strings.TrimRight(c.BaseURL, "/") + "|" + c.Fingerprint() + "|" + c.AuthID
}
