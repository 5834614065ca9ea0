package ws

import (
	"log/slog"
	"sync"

	"github.com/remote-chat/backend/internal/events"
	"github.com/remote-chat/backend/internal/session"
)

// Service connects chat sessions to their bridge hubs.
type Service struct {
	hubManager *HubManager
	handler    *Handler
	logger     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session.Session
	cancels  map[string]func()
}

// NewService creates a new bridge service.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		hubManager: NewHubManager(logger),
		logger:     logger,
		sessions:   make(map[string]*session.Session),
		cancels:    make(map[string]func()),
	}
	s.handler = NewHandler(s.hubManager, s.Session, logger)
	return s
}

// Handler returns the bridge handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// HubManager returns the hub manager.
func (s *Service) HubManager() *HubManager {
	return s.hubManager
}

// Attach makes a session reachable by bridge clients and forwards its events
// to them. The hub exists even before any client attaches.
func (s *Service) Attach(cs *session.Session) {
	id := cs.SessionID()
	hub := s.hubManager.GetOrCreate(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return
	}
	s.sessions[id] = cs
	s.cancels[id] = cs.Subscribe(events.KindAll, hub.BroadcastEvent)
	s.logger.Info("session attached to bridge", "session_id", id)
}

// Detach stops forwarding events and closes the session's clients.
func (s *Service) Detach(sessionID string) {
	s.mu.Lock()
	cancel := s.cancels[sessionID]
	delete(s.cancels, sessionID)
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.hubManager.Remove(sessionID)
}

// Session returns an attached session.
func (s *Service) Session(sessionID string) (*session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.sessions[sessionID]
	return cs, ok
}

// ClientCount returns the number of bridge clients attached to a session.
func (s *Service) ClientCount(sessionID string) int {
	hub := s.hubManager.Get(sessionID)
	if hub == nil {
		return 0
	}
	return hub.ClientCount()
}

// Close detaches every session.
func (s *Service) Close() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = make(map[string]func())
	s.sessions = make(map[string]*session.Session)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.hubManager.Close()
}
