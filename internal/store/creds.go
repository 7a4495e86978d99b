package store

import (
	"strings"

	"google.golang.org/api/option"
)

// ClientOptions turns the configured credential into client options. A value
// shaped like a JSON document is used inline, anything else is treated as a
// file path. Empty falls through to application default credentials.
func ClientOptions(credentials string) []option.ClientOption {
	credentials = strings.TrimSpace(credentials)
	if credentials == "" {
		return nil
	}
	if strings.HasPrefix(credentials, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credentials))}
	}
	return []option.ClientOption{option.WithCredentialsFile(credentials)}
}

// escapeQuery escapes single quotes for Drive query literals.
func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}
