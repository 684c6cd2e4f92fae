package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docquery/internal/core/domain"
	"github.com/kirillkom/docquery/internal/core/ports"
)

const (
	defaultSessionTTL   = time.Hour
	condenseHistoryMax  = 6
	condenseCallTimeout = 20 * time.Second
)

// ConversationManager owns per-session history: condensing follow-up
// questions into standalone queries, the token-budgeted sliding window, and
// TTL-based expiry. Turns within one session are serialized; sessions do not
// block each other.
type ConversationManager struct {
	store     ports.SessionStore
	generator ports.Generator
	tokens    ports.TokenCounter
	logger    *slog.Logger

	ttl         time.Duration
	tokenBudget int
	now         func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

// sessionLock lives in the lock table only while turns for its session are
// running or waiting; refs counts both.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewConversationManager(
	store ports.SessionStore,
	generator ports.Generator,
	tokens ports.TokenCounter,
	logger *slog.Logger,
	ttl time.Duration,
	tokenBudget int,
) *ConversationManager {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if tokenBudget <= 0 {
		tokenBudget = 4096
	}
	return &ConversationManager{
		store:       store,
		generator:   generator,
		tokens:      tokens,
		logger:      logger,
		ttl:         ttl,
		tokenBudget: tokenBudget,
		now:         time.Now,
		locks:       make(map[string]*sessionLock),
	}
}

// Acquire serializes turns for one session and returns the release func.
// Each session id gets its own mutex, held for the whole turn including the
// generation call, so distinct sessions never wait on each other. Entries are
// refcounted and dropped on the last release to keep the table bounded by the
// number of in-flight turns.
func (m *ConversationManager) Acquire(sessionID string) func() {
	m.locksMu.Lock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		m.locks[sessionID] = lock
	}
	lock.refs++
	m.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		m.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(m.locks, sessionID)
		}
		m.locksMu.Unlock()
	}
}

// EnsureSessionID returns the given id or generates a fresh one.
func (m *ConversationManager) EnsureSessionID(sessionID string) string {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return uuid.NewString()
	}
	return sessionID
}

// Load returns the session's history, or a fresh empty session when it is
// absent, expired, or the store is unreachable. A store failure only costs
// history, never the turn.
func (m *ConversationManager) Load(ctx context.Context, sessionID string) *domain.Session {
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		m.logger.Warn("session_load_failed", "session_id", sessionID, "error",
			domain.WrapError(domain.ErrSessionStore, "load session", err))
		return domain.NewSession(sessionID, m.now())
	}
	if session == nil {
		return domain.NewSession(sessionID, m.now())
	}
	return session
}

// Condense rewrites a follow-up question into a standalone query using the
// recent history. With no history, or when the completion call fails, the raw
// question is used as-is.
func (m *ConversationManager) Condense(ctx context.Context, session *domain.Session, question string) string {
	if session == nil || len(session.Messages) == 0 {
		return question
	}

	condenseCtx, cancel := context.WithTimeout(ctx, condenseCallTimeout)
	defer cancel()

	standalone, err := m.generator.Complete(condenseCtx, buildCondensePrompt(session.Messages, question))
	if err != nil {
		m.logger.Warn("condense_fallback", "session_id", session.ID, "error", err)
		return question
	}
	standalone = strings.TrimSpace(standalone)
	if standalone == "" {
		return question
	}
	return standalone
}

// AppendTurn records the user and assistant messages, evicts oldest messages
// past the token budget, and refreshes the TTL. Store failures are logged and
// swallowed: the answered turn is already on its way to the caller.
func (m *ConversationManager) AppendTurn(ctx context.Context, session *domain.Session, question, answer string) {
	now := m.now()
	session.Append(domain.RoleUser, question, now)
	session.Append(domain.RoleAssistant, answer, now)
	session.Messages = evictToBudget(session.Messages, m.tokenBudget, m.tokens)

	if err := m.store.Save(ctx, session, m.ttl); err != nil {
		m.logger.Warn("session_save_failed", "session_id", session.ID, "error",
			domain.WrapError(domain.ErrSessionStore, "save session", err))
	}
}

// Clear drops the session immediately, independent of TTL.
func (m *ConversationManager) Clear(ctx context.Context, sessionID string) error {
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return domain.WrapError(domain.ErrSessionStore, "clear session", err)
	}
	return nil
}

// evictToBudget keeps the longest suffix of messages whose cumulative token
// count fits the budget. Oldest messages drop first, never newest.
func evictToBudget(messages []domain.Message, budget int, counter ports.TokenCounter) []domain.Message {
	total := 0
	cut := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		total += counter.Count(messages[i].Content)
		if total > budget {
			break
		}
		cut = i
	}
	if cut == 0 {
		return messages
	}
	return messages[cut:]
}

func buildCondensePrompt(history []domain.Message, question string) string {
	start := len(history) - condenseHistoryMax
	if start < 0 {
		start = 0
	}
	lines := make([]string, 0, condenseHistoryMax)
	for _, msg := range history[start:] {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, content))
	}

	return fmt.Sprintf(`Rewrite the follow-up question as a single standalone question that can be
understood without the conversation. Resolve pronouns and references using the
conversation. Return only the rewritten question.

Conversation:
%s

Follow-up question:
%s`, strings.Join(lines, "\n"), question)
}
