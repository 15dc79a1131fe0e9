package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. Suitable for tests and
// single-instance deployments; multi-instance deployments need PGStore so
// consecutive webhooks routed to different instances see the same session.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]Session{},
		now:      time.Now,
	}
}

// NewMemoryStoreWithClock lets tests control time for staleness sweeps.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		sessions: map[string]Session{},
		now:      now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, callSid string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callSid]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, callSid string, p Patch) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	sess, ok := s.sessions[callSid]
	if !ok {
		sess = Session{CallSid: callSid, CreatedAt: now}
	}

	if p.CallerNumber != nil {
		sess.CallerNumber = *p.CallerNumber
	}
	if p.State != nil {
		sess.State = *p.State
	}
	if p.MenuChoice != nil {
		sess.MenuChoice = *p.MenuChoice
	}
	if p.IncidentType != nil {
		sess.IncidentType = *p.IncidentType
	}
	if p.LocationRecordingURL != nil {
		sess.LocationRecordingURL = *p.LocationRecordingURL
	}
	if p.IncidentTypeRecordingURL != nil {
		sess.IncidentTypeRecordingURL = *p.IncidentTypeRecordingURL
	}
	if p.DescriptionRecordingURL != nil {
		sess.DescriptionRecordingURL = *p.DescriptionRecordingURL
	}
	if p.TranscriptionText != nil {
		sess.TranscriptionText = *p.TranscriptionText
	}
	sess.MenuAttempts += p.MenuAttemptsDelta
	sess.Reprompts += p.RepromptsDelta
	sess.LastUpdatedAt = now

	s.sessions[callSid] = sess
	return sess, nil
}

func (s *MemoryStore) Delete(ctx context.Context, callSid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, callSid)
	return nil
}

func (s *MemoryStore) SweepStale(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-maxAge)
	removed := 0
	for sid, sess := range s.sessions {
		if sess.LastUpdatedAt.Before(cutoff) {
			delete(s.sessions, sid)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
