// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Setup applies the configured verbosity and output format to the standard
// logger. When jsonOutput is set, log lines are emitted as JSON so they never
// interleave with the machine-readable report on stdout in a confusing way.
func Setup(level string, jsonOutput bool) error {
	parsed, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(parsed)

	if jsonOutput {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
