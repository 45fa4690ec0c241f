package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/talktotext/talktotext-pro/internal/store"
)

// DecodeHistoryCursor parses an opaque cursor token back into a keyset
// position. An empty token means first page.
func DecodeHistoryCursor(cursorStr string) (*store.Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(string(decoded), "|")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return &store.Cursor{
		CreatedAt: time.Unix(0, createdAt),
		JobID:     parts[1],
	}, nil
}

// EncodeHistoryCursor renders a keyset position as an opaque token.
func EncodeHistoryCursor(cursor *store.Cursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.JobID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}
