// Package cli holds helpers shared by helm's subcommands: endpoint
// detection, server-reachability checks, and console message formatting.
package cli

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

// DefaultEndpoint is the Control API base URL assumed when neither
// --endpoint nor HELM_ENDPOINT is set.
const DefaultEndpoint = "http://localhost:8800"

// GetDefaultEndpoint resolves the Control API endpoint from the
// HELM_ENDPOINT environment variable, falling back to DefaultEndpoint.
func GetDefaultEndpoint() string {
	if v := os.Getenv("HELM_ENDPOINT"); v != "" {
		return v
	}
	return DefaultEndpoint
}

// CheckServerRunning verifies that the orchestrator's Control API is up by
// probing its unauthenticated /health endpoint.
func CheckServerRunning(endpoint string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint + "/health")
	if err != nil {
		return fmt.Errorf("helm daemon is not running at %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("helm daemon at %s is not responding correctly (status: %d)", endpoint, resp.StatusCode)
	}
	return nil
}

// FormatError formats an error message for consistent CLI output display.
func FormatError(err error) string {
	return fmt.Sprintf("Error: %v", err)
}

// FormatSuccess formats a success message with a checkmark prefix.
func FormatSuccess(msg string) string {
	return fmt.Sprintf("✓ %s", msg)
}

// FormatWarning formats a warning message with a warning-sign prefix.
func FormatWarning(msg string) string {
	return fmt.Sprintf("⚠ %s", msg)
}
