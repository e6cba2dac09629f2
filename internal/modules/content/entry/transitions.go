package entry

import (
	"time"

	"github.com/strata-cms/core/internal/models"
	"github.com/strata-cms/core/internal/pkg/errs"
)

// allowedTransitions is the lifecycle state machine. Same-state entries mean
// a transition to oneself is a permitted no-op. Archived content can only
// come back through draft, never straight to published.
var allowedTransitions = map[models.EntryStatus][]models.EntryStatus{
	models.EntryStatusDraft:     {models.EntryStatusDraft, models.EntryStatusPublished, models.EntryStatusArchived},
	models.EntryStatusPublished: {models.EntryStatusPublished, models.EntryStatusDraft, models.EntryStatusArchived},
	models.EntryStatusArchived:  {models.EntryStatusArchived, models.EntryStatusDraft},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to models.EntryStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition returns a typed error for illegal moves so the HTTP layer
// can map it to 409.
func checkTransition(from, to models.EntryStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return &errs.TransitionError{From: string(from), To: string(to)}
}

// applyTransitionTimestamps mutates the entry's lifecycle timestamps for the
// move that is about to be persisted, and returns the column map for the
// update. PublishedAt survives archiving so restored content keeps its
// original publish date until it is re-drafted.
func applyTransitionTimestamps(e *models.EntryModel, to models.EntryStatus, now time.Time) map[string]interface{} {
	updates := map[string]interface{}{"status": to}
	switch to {
	case models.EntryStatusPublished:
		e.PublishedAt = &now
		e.ArchivedAt = nil
		updates["published_at"] = &now
		updates["archived_at"] = nil
	case models.EntryStatusDraft:
		e.PublishedAt = nil
		updates["published_at"] = nil
	case models.EntryStatusArchived:
		e.ArchivedAt = &now
		updates["archived_at"] = &now
	}
	e.Status = to
	return updates
}
