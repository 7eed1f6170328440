package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"autopilot/internal/models"
	"autopilot/internal/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DraftService handles human review of drafts
type DraftService struct {
	drafts store.DraftStore
	events *PubSubService
}

// NewDraftService creates a new draft service. events may be nil.
func NewDraftService(drafts store.DraftStore, events *PubSubService) *DraftService {
	return &DraftService{drafts: drafts, events: events}
}

// Get returns one of the user's drafts
func (s *DraftService) Get(ctx context.Context, userID, id string) (*models.Draft, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, invalid("id", "is not a valid draft id")
	}
	draft, err := s.drafts.Get(ctx, oid)
	if err != nil {
		return nil, err
	}
	if draft.UserID != userID {
		return nil, store.ErrNotFound
	}
	return draft, nil
}

// List lists the user's drafts, optionally by status
func (s *DraftService) List(ctx context.Context, userID, status string, limit, offset int) ([]models.Draft, int64, error) {
	if status != "" && !models.DraftStatus(status).IsValid() {
		return nil, 0, invalid("status", "unknown draft status")
	}
	drafts, total, err := s.drafts.List(ctx, store.DraftFilter{
		UserID: userID,
		Status: models.DraftStatus(status),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list drafts: %w", err)
	}
	return drafts, total, nil
}

// Approve moves a pending draft to approved
func (s *DraftService) Approve(ctx context.Context, userID, id string) (*models.Draft, error) {
	return s.transition(ctx, userID, id, models.DraftStatusApproved, EventDraftApproved)
}

// Deny moves a pending draft to rejected
func (s *DraftService) Deny(ctx context.Context, userID, id string) (*models.Draft, error) {
	return s.transition(ctx, userID, id, models.DraftStatusRejected, EventDraftRejected)
}

// MarkExecuted records that an approved draft was carried out
func (s *DraftService) MarkExecuted(ctx context.Context, userID, id string) (*models.Draft, error) {
	return s.transition(ctx, userID, id, models.DraftStatusExecuted, EventDraftExecuted)
}

func (s *DraftService) transition(ctx context.Context, userID, id string, to models.DraftStatus, event string) (*models.Draft, error) {
	draft, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionDraft(draft.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, draft.Status, to)
	}

	updated, err := s.drafts.Transition(ctx, draft.ID, draft.Status, to, userID)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: draft changed concurrently", models.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("failed to update draft: %w", err)
	}

	log.Printf("✍️ [DRAFTS] Draft %s %s -> %s by %s", draft.ID.Hex(), draft.Status, to, userID)
	if s.events != nil {
		s.events.PublishDraft(ctx, event, updated)
	}
	return updated, nil
}
