package storage

import (
	"time"

	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// Merge applies the reconciliation policy of an upsert written at now.
//
// Without an existing record, incoming is stored with UpdatedAt = now (and
// ScannedAt = now when unset). Otherwise the text fields come from incoming,
// ScannedAt becomes the later of both values and UpdatedAt moves strictly
// past the stored one. Identity fields always come from the stored record.
func Merge(existing *plugin.Profile, incoming plugin.Profile, now time.Time) plugin.Profile {
	now = utc(now)
	if incoming.ScannedAt.IsZero() {
		incoming.ScannedAt = now
	}

	if existing == nil {
		incoming.UpdatedAt = now
		return incoming
	}

	merged := *existing
	merged.FirstName = incoming.FirstName
	merged.LastName = incoming.LastName
	merged.Title = incoming.Title
	merged.Company = incoming.Company
	merged.Location = incoming.Location

	if incoming.ScannedAt.After(existing.ScannedAt) {
		merged.ScannedAt = utc(incoming.ScannedAt)
	}

	merged.UpdatedAt = now
	if !now.After(existing.UpdatedAt) {
		merged.UpdatedAt = existing.UpdatedAt.Add(time.Nanosecond)
	}

	return merged
}
