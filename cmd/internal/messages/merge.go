package messages

import (
	"fmt"
	"time"
)

// mergeDelta applies d onto row (nil for an insert) and returns the result.
// The SQL stores implement the same rules in their ON CONFLICT clauses.
func mergeDelta(row *StoredMessage, d MessageDelta) StoredMessage {
	if row == nil {
		out := StoredMessage{Key: d.Key, UpdatedAt: d.UpdatedAt}
		if d.Content != nil {
			out.Content = *d.Content
		}
		if d.GuildID != nil {
			out.GuildID = *d.GuildID
		}
		if d.QuoteID != nil {
			out.QuoteID = *d.QuoteID
		}
		if d.CreatedAt != nil {
			out.CreatedAt = *d.CreatedAt
		}
		if d.Deleted != nil {
			out.Deleted = *d.Deleted
		}
		if d.Edited != nil {
			out.Edited = *d.Edited
		}
		if d.Author != nil {
			out.Author = *d.Author
		}
		return out
	}

	// Content follows the newest write. The other fields also take an older
	// delta when the row has nothing yet, so rows synthesized by an early
	// update or delete are filled in by the create that follows.
	out := *row
	fresh := !row.UpdatedAt.After(d.UpdatedAt)
	if fresh && d.Content != nil {
		out.Content = *d.Content
	}
	if d.GuildID != nil && (fresh || out.GuildID == "") {
		out.GuildID = *d.GuildID
	}
	if d.QuoteID != nil && (fresh || out.QuoteID == "") {
		out.QuoteID = *d.QuoteID
	}
	if d.Author != nil && (fresh || out.Author.ID == "") {
		out.Author = *d.Author
	}
	if out.CreatedAt.IsZero() && d.CreatedAt != nil {
		out.CreatedAt = *d.CreatedAt
	}
	if d.Deleted != nil && *d.Deleted {
		out.Deleted = true
	}
	if d.Edited != nil && *d.Edited {
		out.Edited = true
	}
	if d.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = d.UpdatedAt
	}
	return out
}

func mergePatch(row StoredMessage, p Patch) StoredMessage {
	if p.Content != nil && !row.UpdatedAt.After(p.UpdatedAt) {
		row.Content = *p.Content
	}
	if p.Deleted {
		row.Deleted = true
	}
	if p.Edited {
		row.Edited = true
	}
	if p.UpdatedAt.After(row.UpdatedAt) {
		row.UpdatedAt = p.UpdatedAt
	}
	return row
}

func normalizeDeltas(deltas []MessageDelta, now time.Time) ([]MessageDelta, error) {
	out := make([]MessageDelta, 0, len(deltas))
	for i, d := range deltas {
		if !d.Key.Valid() {
			return nil, fmt.Errorf("%w: delta %d has incomplete key %+v", ErrInvalidInput, i, d.Key)
		}
		if d.UpdatedAt.IsZero() {
			d.UpdatedAt = now
		}
		d.UpdatedAt = d.UpdatedAt.UTC()
		out = append(out, d)
	}
	return out, nil
}

func validFilter(f Filter) error {
	if f.Platform == "" || f.MessageID == "" {
		return fmt.Errorf("%w: filter needs platform and message id", ErrInvalidInput)
	}
	return nil
}
