// Package presence tracks where users are and what they are doing across
// artifacts: an in-memory cache mirrored to a shared KV store with a
// 5-minute TTL, write-through to a durable store for analytics, and a
// periodic sweep that retires stale records.
//
// Grounded on original_source/backend/services/presence_tracker.py's
// PresenceTracker (in-memory + Redis dual-write with TTL, scan-based
// artifact/user lookups deduplicated by user id, minute-granularity cleanup
// task demoting stale records to offline).
package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/artifactor-hq/collab-core/internal/v1/kv"
	"github.com/artifactor-hq/collab-core/internal/v1/logging"
	"github.com/artifactor-hq/collab-core/internal/v1/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Status values per spec.md §3's Presence record.
const (
	StatusActive  = "active"
	StatusAway    = "away"
	StatusOffline = "offline"
)

const ttl = 5 * time.Minute

// Cursor mirrors collab.Cursor without importing the collab package
// (presence has no dependency on the transport layer).
type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Viewport mirrors collab.Viewport.
type Viewport struct {
	TopLine    int `json:"top_line"`
	BottomLine int `json:"bottom_line"`
}

// Record is the durable analog of a connected collab.Client, per
// spec.md §3's "Presence record".
type Record struct {
	UserID         string    `json:"user_id"`
	ArtifactID     string    `json:"artifact_id"`
	Status         string    `json:"status"`
	Activity       string    `json:"activity,omitempty"`
	Cursor         *Cursor   `json:"cursor,omitempty"`
	Viewport       *Viewport `json:"viewport,omitempty"`
	LastSeen       time.Time `json:"last_seen"`
	SessionID      string    `json:"session_id,omitempty"`
	ConnectionInfo string    `json:"connection_info,omitempty"`
}

func (r Record) expired(now time.Time) bool {
	return now.Sub(r.LastSeen) > ttl
}

// Store persists presence for analytics; satisfied by internal/v1/store.
type Store interface {
	UpsertPresence(ctx context.Context, rec Record) error
	MarkOffline(ctx context.Context, userID, artifactID string, at time.Time) error
	SweepStaleToOffline(ctx context.Context, cutoff time.Time) (int, error)
}

// Service is the in-memory + KV + durable-store presence tracker.
type Service struct {
	mu    sync.RWMutex
	cache map[string]Record // "userID:artifactID" -> record

	kv    *kv.Store
	store Store
	cron  *cron.Cron
}

// New constructs a Service. kv and store may each be nil; kv degrades to
// memory-only mirroring, store skips durable write-through.
func New(kvStore *kv.Store, store Store) *Service {
	return &Service{
		cache: make(map[string]Record),
		kv:    kvStore,
		store: store,
	}
}

func cacheKey(userID, artifactID string) string {
	return userID + ":" + artifactID
}

func kvKey(userID, artifactID string) string {
	return "presence:" + cacheKey(userID, artifactID)
}

// UpdatePresence upserts the record, writes through to KV (5-minute TTL)
// and the durable store.
func (s *Service) UpdatePresence(ctx context.Context, userID, artifactID, status, activity string, cursor *Cursor, viewport *Viewport, sessionID, connectionInfo string) error {
	rec := Record{
		UserID:         userID,
		ArtifactID:     artifactID,
		Status:         status,
		Activity:       activity,
		Cursor:         cursor,
		Viewport:       viewport,
		LastSeen:       time.Now().UTC(),
		SessionID:      sessionID,
		ConnectionInfo: connectionInfo,
	}

	s.mu.Lock()
	s.cache[cacheKey(userID, artifactID)] = rec
	active := len(s.artifactRecordsLocked(artifactID))
	s.mu.Unlock()

	metrics.PresenceActiveUsers.WithLabelValues(artifactID).Set(float64(active))

	if s.kv != nil {
		data, err := json.Marshal(rec)
		if err == nil {
			if err := s.kv.Set(ctx, kvKey(userID, artifactID), data, ttl); err != nil {
				logging.Warn(ctx, "presence: kv write failed", zap.Error(err))
			}
		}
	}

	if s.store != nil {
		if err := s.store.UpsertPresence(ctx, rec); err != nil {
			logging.Error(ctx, "presence: durable write failed", zap.Error(err))
		}
	}
	return nil
}

// RemovePresence deletes the in-memory and KV records and marks the
// durable row offline.
func (s *Service) RemovePresence(ctx context.Context, userID, artifactID string) error {
	key := cacheKey(userID, artifactID)

	s.mu.Lock()
	delete(s.cache, key)
	active := len(s.artifactRecordsLocked(artifactID))
	s.mu.Unlock()

	if s.kv != nil {
		if err := s.kv.Delete(ctx, kvKey(userID, artifactID)); err != nil {
			logging.Warn(ctx, "presence: kv delete failed", zap.Error(err))
		}
	}

	if s.store != nil {
		if err := s.store.MarkOffline(ctx, userID, artifactID, time.Now().UTC()); err != nil {
			logging.Error(ctx, "presence: durable offline mark failed", zap.Error(err))
		}
	}

	metrics.PresenceActiveUsers.WithLabelValues(artifactID).Set(float64(active))
	return nil
}

// ArtifactPresence returns the active/away records for artifactID, merging
// in-memory and KV-resident records and deduplicating by user id (in-memory
// wins ties, since it reflects this instance's own live connections).
func (s *Service) ArtifactPresence(ctx context.Context, artifactID string) []Record {
	seen := make(map[string]struct{})
	var out []Record

	s.mu.RLock()
	for _, rec := range s.cache {
		if rec.ArtifactID != artifactID {
			continue
		}
		if rec.Status != StatusActive && rec.Status != StatusAway {
			continue
		}
		seen[rec.UserID] = struct{}{}
		out = append(out, rec)
	}
	s.mu.RUnlock()

	if s.kv != nil {
		keys, err := s.kv.ScanKeys(ctx, "presence:*:"+artifactID)
		if err != nil {
			logging.Warn(ctx, "presence: kv scan failed", zap.Error(err))
		}
		for _, key := range keys {
			data, err := s.kv.Get(ctx, key)
			if err != nil {
				continue
			}
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				continue
			}
			if _, dup := seen[rec.UserID]; dup {
				continue
			}
			if rec.Status != StatusActive && rec.Status != StatusAway {
				continue
			}
			seen[rec.UserID] = struct{}{}
			out = append(out, rec)
		}
	}
	return out
}

// UserPresence returns the active/away records for userID across artifacts,
// symmetric with ArtifactPresence.
func (s *Service) UserPresence(ctx context.Context, userID string) []Record {
	seen := make(map[string]struct{})
	var out []Record

	s.mu.RLock()
	for _, rec := range s.cache {
		if rec.UserID != userID {
			continue
		}
		if rec.Status != StatusActive && rec.Status != StatusAway {
			continue
		}
		seen[rec.ArtifactID] = struct{}{}
		out = append(out, rec)
	}
	s.mu.RUnlock()

	if s.kv != nil {
		keys, err := s.kv.ScanKeys(ctx, "presence:"+userID+":*")
		if err != nil {
			logging.Warn(ctx, "presence: kv scan failed", zap.Error(err))
		}
		for _, key := range keys {
			data, err := s.kv.Get(ctx, key)
			if err != nil {
				continue
			}
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				continue
			}
			if _, dup := seen[rec.ArtifactID]; dup {
				continue
			}
			if rec.Status != StatusActive && rec.Status != StatusAway {
				continue
			}
			seen[rec.ArtifactID] = struct{}{}
			out = append(out, rec)
		}
	}
	return out
}

// UpdateCursor refreshes cursor and last-seen for an existing record.
func (s *Service) UpdateCursor(ctx context.Context, userID, artifactID string, cursor Cursor) {
	s.mu.Lock()
	rec, ok := s.cache[cacheKey(userID, artifactID)]
	if ok {
		rec.Cursor = &cursor
		rec.LastSeen = time.Now().UTC()
		s.cache[cacheKey(userID, artifactID)] = rec
	}
	s.mu.Unlock()
	if ok && s.kv != nil {
		data, err := json.Marshal(rec)
		if err == nil {
			_ = s.kv.Set(ctx, kvKey(userID, artifactID), data, ttl)
		}
	}
}

// UpdateActivity refreshes activity and last-seen for an existing record.
func (s *Service) UpdateActivity(ctx context.Context, userID, artifactID, activity string) {
	s.mu.Lock()
	rec, ok := s.cache[cacheKey(userID, artifactID)]
	if ok {
		rec.Activity = activity
		rec.LastSeen = time.Now().UTC()
		s.cache[cacheKey(userID, artifactID)] = rec
	}
	s.mu.Unlock()
	if ok && s.kv != nil {
		data, err := json.Marshal(rec)
		if err == nil {
			_ = s.kv.Set(ctx, kvKey(userID, artifactID), data, ttl)
		}
	}
}

func (s *Service) artifactRecordsLocked(artifactID string) []Record {
	var out []Record
	for _, rec := range s.cache {
		if rec.ArtifactID == artifactID && (rec.Status == StatusActive || rec.Status == StatusAway) {
			out = append(out, rec)
		}
	}
	return out
}

// StartSweep schedules the minute-granularity stale-record sweep, scheduled
// with github.com/robfig/cron/v3. Records whose last-seen exceeds the
// 5-minute TTL are evicted from memory; the durable store's matching rows
// move from active/away to offline.
func (s *Service) StartSweep(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("@every 1m", func() { s.sweep(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
	return nil
}

func (s *Service) sweep(ctx context.Context) {
	now := time.Now().UTC()
	cutoff := now.Add(-ttl)

	var expired int
	s.mu.Lock()
	for key, rec := range s.cache {
		if rec.expired(now) {
			delete(s.cache, key)
			expired++
		}
	}
	s.mu.Unlock()

	if expired > 0 {
		metrics.PresenceSweepExpired.WithLabelValues().Add(float64(expired))
		logging.Info(ctx, "presence: swept expired in-memory records", zap.Int("count", expired))
	}

	if s.store != nil {
		n, err := s.store.SweepStaleToOffline(ctx, cutoff)
		if err != nil {
			logging.Error(ctx, "presence: durable sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			logging.Info(ctx, "presence: swept stale durable records to offline", zap.Int("count", n))
		}
	}
}
