// Package audit provides a structured audit logger for CLI command invocations.
// It logs command name, resolved configuration, and sanitised environment state
// so operators can trace what happened without exposing secret values.
//
// Secrets are logged as presence/absence only — never their values.
package audit

import (
	"context"
	"log/slog"
	"os"
)

// auditEntry defines an env var to include in the audit log.
type auditEntry struct {
	// key is the environment variable name.
	key string
	// secret indicates the value should be redacted to presence/absence.
	secret bool
}

// auditKeys is the ordered list of env vars included in every audit log entry.
var auditKeys = []auditEntry{
	{key: "LIBRARIAN_CONFIG", secret: false},
	{key: "LIBRARIAN_LOG", secret: false},
	{key: "LIBRARIAN_EMBEDDING_MODELS_PATH", secret: false},
	{key: "QDRANT_URL", secret: false},
	{key: "QDRANT_COLLECTION", secret: false},
	{key: "QDRANT_API_KEY", secret: true},
}

// LogCommandStart emits a structured audit log entry when a CLI command begins.
// It records the command name, config file source, and sanitised environment.
func LogCommandStart(log *slog.Logger, command string, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}

	for _, entry := range auditKeys {
		val := os.Getenv(entry.key)
		if entry.secret {
			attrs = append(attrs, slog.String(entry.key, presence(val)))
		} else {
			attrs = append(attrs, slog.String(entry.key, valOrUnset(val)))
		}
	}

	log.LogAttrs(context.TODO(), slog.LevelInfo, "audit: command start", attrs...)
}

// sanitiseConfigPath normalises an empty config path to a readable marker.
func sanitiseConfigPath(path string) string {
	if path == "" {
		return "(defaults)"
	}
	return path
}

// presence reduces a secret value to "set" or "unset".
func presence(val string) string {
	if val == "" {
		return "unset"
	}
	return "set"
}

// valOrUnset returns the value, or "unset" for empty strings.
func valOrUnset(val string) string {
	if val == "" {
		return "unset"
	}
	return val
}
