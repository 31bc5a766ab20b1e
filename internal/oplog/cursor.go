package oplog

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/golemcloud/golem/internal/ids"
)

// Cursor is the pagination token returned by Store.Read: the index to
// resume from and the component version that was active there, so a client
// reading across a component update boundary can detect it (§4.1).
type Cursor struct {
	NextIndex        ids.OplogIndex
	ComponentVersion ids.ComponentVersion
}

// String encodes the cursor as an opaque token safe to hand back to a
// client across an RPC boundary.
func (c Cursor) String() string {
	raw := fmt.Sprintf("%d:%d", c.NextIndex, c.ComponentVersion)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a token produced by Cursor.String.
func ParseCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("oplog: malformed cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("oplog: malformed cursor %q", token)
	}
	idx, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("oplog: malformed cursor index: %w", err)
	}
	ver, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("oplog: malformed cursor version: %w", err)
	}
	return Cursor{NextIndex: ids.OplogIndex(idx), ComponentVersion: ids.ComponentVersion(ver)}, nil
}
