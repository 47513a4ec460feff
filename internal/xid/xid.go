package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New returns a time-ordered identifier with a readable prefix, e.g. "sale-0190f0c2-...".
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	if prefix == "" {
		return id.String()
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// Derive builds a stable child id from a client-supplied parent id so that a
// retried request produces the same child rows.
func Derive(parentID string, parts ...string) string {
	all := append([]string{parentID}, parts...)
	return strings.Join(all, ":")
}

// OrNew keeps a client-generated id and only falls back to a fresh one when empty.
func OrNew(id string, prefix string) string {
	id = strings.TrimSpace(id)
	if id != "" {
		return id
	}
	return New(prefix)
}
