package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID prefixed with the module name, e.g. "txf_<uuid>".
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// DeriveEventID builds the deduplication key for an inbound platform event.
// The same shop, topic and entity (and version, when the platform sends one)
// always produce the same id.
func DeriveEventID(shopDomain, topic, entityID, version string) string {
	parts := []string{strings.ToLower(strings.TrimSpace(shopDomain)), topic, entityID}
	if version != "" {
		parts = append(parts, version)
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}
