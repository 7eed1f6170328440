package services

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"autopilot/internal/autonomy"
	"autopilot/internal/database"
	"autopilot/internal/models"
	"autopilot/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraftService_ReviewFlow(t *testing.T) {
	env := newTestEnv(t, newFakeReasoning(nil), envOptions{})
	ctx := context.Background()
	draft := seedDraft(t, env.stores, "user-1", models.DraftStatusPendingReview)

	events, cancel := env.events.Subscribe("user-1")
	defer cancel()

	approved, err := env.drafts.Approve(ctx, "user-1", draft.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.DraftStatusApproved, approved.Status)
	assert.Equal(t, "user-1", approved.ReviewedBy)
	assert.NotNil(t, approved.ReviewedAt)

	select {
	case ev := <-events:
		assert.Equal(t, EventDraftApproved, ev.Type)
		assert.Equal(t, draft.ID, ev.Draft.ID)
	case <-time.After(time.Second):
		t.Fatal("no draft event")
	}

	_, err = env.drafts.Approve(ctx, "user-1", draft.ID.Hex())
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	executed, err := env.drafts.MarkExecuted(ctx, "user-1", draft.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.DraftStatusExecuted, executed.Status)
	assert.NotNil(t, executed.ExecutedAt)
}

func TestDraftService_IllegalTransitions(t *testing.T) {
	env := newTestEnv(t, newFakeReasoning(nil), envOptions{})
	ctx := context.Background()

	auto := seedDraft(t, env.stores, "user-1", models.DraftStatusAutoExecuted)
	_, err := env.drafts.Deny(ctx, "user-1", auto.ID.Hex())
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	pending := seedDraft(t, env.stores, "user-1", models.DraftStatusPendingReview)
	_, err = env.drafts.MarkExecuted(ctx, "user-1", pending.ID.Hex())
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = env.drafts.Approve(ctx, "user-2", pending.ID.Hex())
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = env.drafts.Approve(ctx, "user-1", "not-an-id")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestDraftService_ConcurrentReviewHasOneWinner(t *testing.T) {
	env := newTestEnv(t, newFakeReasoning(nil), envOptions{})
	ctx := context.Background()
	draft := seedDraft(t, env.stores, "user-1", models.DraftStatusPendingReview)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = env.drafts.Approve(ctx, "user-1", draft.ID.Hex())
			} else {
				_, err = env.drafts.Deny(ctx, "user-1", draft.ID.Hex())
			}
			if err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestDraftService_ListValidatesStatus(t *testing.T) {
	env := newTestEnv(t, newFakeReasoning(nil), envOptions{})
	ctx := context.Background()
	seedDraft(t, env.stores, "user-1", models.DraftStatusPendingReview)
	seedDraft(t, env.stores, "user-1", models.DraftStatusRejected)

	drafts, total, err := env.drafts.List(ctx, "user-1", string(models.DraftStatusPendingReview), 50, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, drafts, 1)

	_, _, err = env.drafts.List(ctx, "user-1", "bogus", 50, 0)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestPubSubService_IsolatesUsers(t *testing.T) {
	events := NewPubSubService(nil, "instance-a")
	mine, cancelMine := events.Subscribe("user-1")
	defer cancelMine()
	theirs, cancelTheirs := events.Subscribe("user-2")
	defer cancelTheirs()

	events.PublishDraft(context.Background(), EventDraftCreated, &models.Draft{UserID: "user-1", Title: "x"})

	select {
	case ev := <-mine:
		assert.Equal(t, EventDraftCreated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive its event")
	}
	select {
	case ev := <-theirs:
		t.Fatalf("user-2 received user-1's event: %+v", ev)
	default:
	}
}

func TestUserFromChannel(t *testing.T) {
	assert.Equal(t, "abc", userFromChannel("user:abc:drafts"))
	assert.Equal(t, "", userFromChannel("user:abc:events"))
	assert.Equal(t, "", userFromChannel("broadcast:all"))
}

func TestLocalUserLocker_Serialises(t *testing.T) {
	locker := NewLocalUserLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "user-1")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalUserLocker_HonoursContext(t *testing.T) {
	locker := NewLocalUserLocker()
	unlock, err := locker.Lock(context.Background(), "user-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "user-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// other users are not blocked
	other, err := locker.Lock(context.Background(), "user-2")
	require.NoError(t, err)
	other()
}

func TestGateAuditService_RecordsDecisions(t *testing.T) {
	db, err := database.New("sqlite://" + filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Initialize())

	audit := NewGateAuditService(db)
	ctx := context.Background()

	require.NoError(t, audit.RecordDecision(ctx, "user-1", autonomy.Decision{
		Status: models.DraftStatusRejected, Reason: autonomy.ReasonUnknownCapability,
		Code: autonomy.CodeUnknownCapability, ToolName: "shell.exec", Confidence: 1,
	}))
	require.NoError(t, audit.RecordDecision(ctx, "user-1", autonomy.Decision{
		Status: models.DraftStatusPendingReview, Reason: autonomy.ReasonReviewRequired,
		Code: autonomy.CodeReviewRequired, ToolName: "email.draft_reply", Effect: "draft", RequiredScope: "propose", Confidence: 0.9,
	}))
	require.NoError(t, audit.RecordDecision(ctx, "user-2", autonomy.Decision{
		Status: models.DraftStatusAutoExecuted, Code: autonomy.CodeAutoExecute, ToolName: "journal.append",
	}))

	records, err := audit.ListForUser(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byTool := map[string]GateDecisionRecord{}
	for _, r := range records {
		byTool[r.ToolName] = r
	}
	assert.True(t, byTool["shell.exec"].UnknownCapability)
	assert.False(t, byTool["email.draft_reply"].UnknownCapability)
	assert.Equal(t, "propose", byTool["email.draft_reply"].RequiredScope)
}
