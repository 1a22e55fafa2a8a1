package admin

import (
	"encoding/json"
	"fmt"

	"github.com/matt-riley/routz/internal/repository"
)

// buildAuditEntry constructs a repository.AuditLogEntry, marshalling the
// optional details value to JSON. Returns an error if details cannot be
// marshalled.
func buildAuditEntry(actor, action, formSlug string, details any) (repository.AuditLogEntry, error) {
	entry := repository.AuditLogEntry{
		Actor:    actor,
		Action:   action,
		FormSlug: formSlug,
	}

	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			return repository.AuditLogEntry{}, fmt.Errorf("marshal audit details: %w", err)
		}
		entry.Details = raw
	}

	return entry, nil
}
