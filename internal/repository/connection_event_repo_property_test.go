package repository

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/remote-chat/backend/internal/db"
	"github.com/remote-chat/backend/internal/model"
)

func newTestRepo(t *testing.T) *ConnectionEventRepository {
	t.Helper()
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })
	return NewConnectionEventRepository(testDB)
}

func TestRecordAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	code := model.ClosePongTimeout
	events := []*model.ConnectionEvent{
		{SessionID: "s1", Status: model.StatusConnecting},
		{SessionID: "s1", Status: model.StatusConnected},
		{SessionID: "s1", Status: model.StatusReconnecting, RetryCount: 1, CloseCode: &code, Reason: "pong timeout"},
		{SessionID: "s2", Status: model.StatusConnecting},
	}
	for _, e := range events {
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("record failed: %v", err)
		}
		if e.ID == 0 {
			t.Error("record should assign an id")
		}
	}

	got, err := repo.ListBySession(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	newest := got[0]
	if newest.Status != model.StatusReconnecting || newest.CloseCode == nil || *newest.CloseCode != code || newest.Reason != "pong timeout" {
		t.Errorf("unexpected newest event %+v", newest)
	}
	if got[2].CloseCode != nil {
		t.Error("close code should be nil when not recorded")
	}

	recent, _ := repo.ListRecent(ctx, 2)
	if len(recent) != 2 || recent[0].SessionID != "s2" {
		t.Errorf("unexpected recent events %+v", recent)
	}
}

func TestDeleteBefore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	repo.Record(ctx, &model.ConnectionEvent{SessionID: "s1", Status: model.StatusConnected, CreatedAt: old})
	repo.Record(ctx, &model.ConnectionEvent{SessionID: "s1", Status: model.StatusDisconnected})

	n, err := repo.DeleteBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned row, got %d", n)
	}
	if count, _ := repo.Count(ctx, "s1"); count != 1 {
		t.Errorf("expected 1 remaining, got %d", count)
	}
}

func TestJournalCountProperty(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	statuses := []model.ConnectionStatus{
		model.StatusConnecting,
		model.StatusConnected,
		model.StatusReconnecting,
		model.StatusDisconnected,
		model.StatusOffline,
	}

	properties.Property("every recorded transition is listed newest first", prop.ForAll(
		func(sessionID string, picks []int) bool {
			transitions := make([]model.ConnectionStatus, len(picks))
			for i, p := range picks {
				transitions[i] = statuses[p]
			}

			before, err := repo.Count(ctx, sessionID)
			if err != nil {
				return false
			}
			for i, s := range transitions {
				if err := repo.Record(ctx, &model.ConnectionEvent{SessionID: sessionID, Status: s, RetryCount: i}); err != nil {
					return false
				}
			}

			after, err := repo.Count(ctx, sessionID)
			if err != nil || after != before+len(transitions) {
				return false
			}
			if len(transitions) == 0 {
				return true
			}

			listed, err := repo.ListBySession(ctx, sessionID, len(transitions))
			if err != nil || len(listed) != len(transitions) {
				return false
			}
			for i, e := range listed {
				if e.Status != transitions[len(transitions)-1-i] {
					return false
				}
			}
			return true
		},
		gen.Identifier(),
		gen.SliceOf(gen.IntRange(0, len(statuses)-1)),
	))

	properties.TestingRun(t)
}
