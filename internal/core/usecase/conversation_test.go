package usecase

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/docquery/internal/core/domain"
)

func newTestConversations(store *fakeSessionStore, generator *fakeGenerator, budget int) *ConversationManager {
	return NewConversationManager(store, generator, staticCounter{perMessage: 10}, nil, time.Hour, budget)
}

func TestEnsureSessionIDGeneratesWhenBlank(t *testing.T) {
	m := newTestConversations(newFakeSessionStore(), &fakeGenerator{}, 100)

	if got := m.EnsureSessionID("existing"); got != "existing" {
		t.Fatalf("existing id was replaced: %s", got)
	}
	generated := m.EnsureSessionID("  ")
	if generated == "" {
		t.Fatal("blank id must yield a generated one")
	}
	if other := m.EnsureSessionID(""); other == generated {
		t.Fatal("generated ids must be unique")
	}
}

func TestLoadReturnsFreshSessionOnStoreFailure(t *testing.T) {
	store := newFakeSessionStore()
	store.getErr = fmt.Errorf("redis down")
	m := newTestConversations(store, &fakeGenerator{}, 100)

	session := m.Load(context.Background(), "s1")
	if session == nil || session.ID != "s1" {
		t.Fatalf("expected fresh session, got %+v", session)
	}
	if len(session.Messages) != 0 {
		t.Fatal("fresh session must have no history")
	}
}

func TestCondenseUsesHistoryAndFallsBack(t *testing.T) {
	store := newFakeSessionStore()
	generator := &fakeGenerator{
		completeFn: func(ctx context.Context, prompt string) (string, error) {
			if !strings.Contains(prompt, "error budgets") {
				t.Fatalf("condense prompt is missing history: %q", prompt)
			}
			return "What alerting rules protect error budgets?", nil
		},
	}
	m := newTestConversations(store, generator, 100)

	session := domain.NewSession("s1", time.Now())
	session.Append(domain.RoleUser, "Tell me about error budgets", time.Now())
	session.Append(domain.RoleAssistant, "Error budgets bound allowed unreliability.", time.Now())

	got := m.Condense(context.Background(), session, "What alerting protects them?")
	if got != "What alerting rules protect error budgets?" {
		t.Fatalf("condensed query = %q", got)
	}

	// No history means no rewrite call at all.
	empty := domain.NewSession("s2", time.Now())
	if got := m.Condense(context.Background(), empty, "plain question"); got != "plain question" {
		t.Fatalf("empty history must pass the question through, got %q", got)
	}

	// Rewrite failure falls back to the raw question.
	generator.completeFn = func(ctx context.Context, prompt string) (string, error) {
		return "", fmt.Errorf("timeout")
	}
	if got := m.Condense(context.Background(), session, "follow-up"); got != "follow-up" {
		t.Fatalf("failed rewrite must fall back, got %q", got)
	}
}

func TestAppendTurnEvictsOldestPastBudget(t *testing.T) {
	store := newFakeSessionStore()
	// Each message costs 10 tokens; budget 40 keeps at most 4 messages.
	m := newTestConversations(store, &fakeGenerator{}, 40)

	session := domain.NewSession("s1", time.Now())
	for i := 0; i < 3; i++ {
		session.Append(domain.RoleUser, fmt.Sprintf("question %d", i), time.Now())
		session.Append(domain.RoleAssistant, fmt.Sprintf("answer %d", i), time.Now())
	}

	m.AppendTurn(context.Background(), session, "question 3", "answer 3")

	if len(session.Messages) != 4 {
		t.Fatalf("expected 4 surviving messages, got %d", len(session.Messages))
	}
	if session.Messages[len(session.Messages)-1].Content != "answer 3" {
		t.Fatal("newest message was evicted")
	}
	if session.Messages[0].Content != "question 2" {
		t.Fatalf("expected oldest survivor to be question 2, got %q", session.Messages[0].Content)
	}
}

func TestAppendTurnSwallowsStoreFailure(t *testing.T) {
	store := newFakeSessionStore()
	store.saveErr = fmt.Errorf("redis down")
	m := newTestConversations(store, &fakeGenerator{}, 100)

	session := domain.NewSession("s1", time.Now())
	m.AppendTurn(context.Background(), session, "q", "a")

	if len(session.Messages) != 2 {
		t.Fatalf("turn must be recorded in memory even when the save fails, got %d messages", len(session.Messages))
	}
}

func TestAppendTurnPersistsAndReloads(t *testing.T) {
	store := newFakeSessionStore()
	m := newTestConversations(store, &fakeGenerator{}, 100)

	session := domain.NewSession("s1", time.Now())
	m.AppendTurn(context.Background(), session, "q1", "a1")

	reloaded := m.Load(context.Background(), "s1")
	if len(reloaded.Messages) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(reloaded.Messages))
	}
	if reloaded.Messages[0].Role != domain.RoleUser || reloaded.Messages[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected roles: %s, %s", reloaded.Messages[0].Role, reloaded.Messages[1].Role)
	}
}

func TestAcquireDoesNotBlockDistinctSessions(t *testing.T) {
	m := newTestConversations(newFakeSessionStore(), &fakeGenerator{}, 100)

	// Hold one session's lock for the whole test, as a turn does across its
	// generation call. Every other session must still get through immediately.
	releaseHeld := m.Acquire("session-0")
	defer releaseHeld()

	done := make(chan string, 64)
	for i := 1; i < 64; i++ {
		go func(id string) {
			release := m.Acquire(id)
			release()
			done <- id
		}(fmt.Sprintf("session-%d", i))
	}
	for i := 1; i < 64; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("an unrelated session waited on a held lock")
		}
	}
}

func TestAcquireSerializesSameSession(t *testing.T) {
	m := newTestConversations(newFakeSessionStore(), &fakeGenerator{}, 100)

	release := m.Acquire("session-a")

	acquired := make(chan struct{})
	go func() {
		second := m.Acquire("session-a")
		second()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("a second turn for the same session must wait for the first")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("release did not unblock the waiting turn")
	}

	m.locksMu.Lock()
	remaining := len(m.locks)
	m.locksMu.Unlock()
	if remaining != 0 {
		t.Fatalf("lock table must be empty after all releases, got %d entries", remaining)
	}
}

func TestClearRemovesSession(t *testing.T) {
	store := newFakeSessionStore()
	m := newTestConversations(store, &fakeGenerator{}, 100)

	session := domain.NewSession("s1", time.Now())
	m.AppendTurn(context.Background(), session, "q", "a")

	if err := m.Clear(context.Background(), "s1"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if got := m.Load(context.Background(), "s1"); len(got.Messages) != 0 {
		t.Fatal("cleared session still has history")
	}
}
