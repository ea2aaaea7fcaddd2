package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"ci-medic/logger"

	"github.com/google/uuid"
)

// JSONStore implements Store using in-memory state backed by a JSON file.
type JSONStore struct {
	path          string
	mu            sync.RWMutex
	data          jsonData
	dirty         bool
	log           logger.Logger
	flushInterval time.Duration
	stopFlush     chan struct{}
	closeOnce     sync.Once
}

type jsonData struct {
	// Tracked is kept in insertion order.
	Tracked  []*TrackedPR               `json:"tracked_prs"`
	Analyses map[string]*AnalysisRecord `json:"analyses"`
}

// NewJSONStore creates a new JSONStore. If the file at path exists it is loaded.
// A background goroutine flushes to disk at the given interval.
func NewJSONStore(path string, flushInterval time.Duration, log logger.Logger) (*JSONStore, error) {
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}
	s := &JSONStore{
		path:          path,
		log:           log,
		flushInterval: flushInterval,
		stopFlush:     make(chan struct{}),
		data: jsonData{
			Analyses: make(map[string]*AnalysisRecord),
		},
	}

	if err := s.loadFromFile(); err != nil {
		return nil, err
	}

	go s.flushLoop()

	log.Info("store.json.opened", logger.String("path", path))
	return s, nil
}

func (s *JSONStore) loadFromFile() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read json store: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var d jsonData
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("unmarshal json store: %w", err)
	}
	if d.Analyses == nil {
		d.Analyses = make(map[string]*AnalysisRecord)
	}
	s.data = d
	return nil
}

// flush writes the state to a temp file and renames it over the store file.
func (s *JSONStore) flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	data, err := json.MarshalIndent(s.data, "", "  ")
	s.dirty = false
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal json store: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.markDirty()
		return fmt.Errorf("write json store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.markDirty()
		return fmt.Errorf("replace json store: %w", err)
	}
	return nil
}

func (s *JSONStore) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

func (s *JSONStore) flushLoop() {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.flush(); err != nil {
				s.log.Error("store.json.flush_failed", logger.Err(err))
			}
		case <-s.stopFlush:
			return
		}
	}
}

// ---------- Tracked PRs ----------

func (s *JSONStore) AddTrackedPR(_ context.Context, repo string, number int64) (*TrackedPR, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := prKey(repo, number)
	for _, pr := range s.data.Tracked {
		if pr.Key() == key {
			clone := *pr
			return &clone, nil
		}
	}
	pr := &TrackedPR{ID: uuid.NewString(), Repo: repo, Number: number, AddedAt: time.Now().UTC()}
	s.data.Tracked = append(s.data.Tracked, pr)
	s.dirty = true
	clone := *pr
	return &clone, nil
}

func (s *JSONStore) RemoveTrackedPR(_ context.Context, repo string, number int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := prKey(repo, number)
	for i, pr := range s.data.Tracked {
		if pr.Key() == key {
			s.data.Tracked = append(s.data.Tracked[:i], s.data.Tracked[i+1:]...)
			s.dirty = true
			return nil
		}
	}
	return nil
}

func (s *JSONStore) ListTrackedPRs(_ context.Context) ([]*TrackedPR, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TrackedPR, 0, len(s.data.Tracked))
	for _, pr := range s.data.Tracked {
		clone := *pr
		out = append(out, &clone)
	}
	return out, nil
}

// ---------- Analyses ----------

func (s *JSONStore) SaveAnalysis(_ context.Context, rec *AnalysisRecord) error {
	prepareAnalysis(rec)
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	if existing, ok := s.data.Analyses[rec.ID]; ok {
		clone.CreatedAt = existing.CreatedAt
	}
	s.data.Analyses[rec.ID] = &clone
	s.dirty = true
	return nil
}

func (s *JSONStore) GetAnalysis(_ context.Context, id string) (*AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data.Analyses[id]
	if !ok {
		return nil, nil
	}
	clone := *rec
	return &clone, nil
}

func (s *JSONStore) ListAnalyses(_ context.Context, filter AnalysisFilter) ([]*AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*AnalysisRecord
	for _, rec := range s.data.Analyses {
		if filter.Repo != "" && rec.Repo != filter.Repo {
			continue
		}
		if filter.Number != 0 && rec.Number != filter.Number {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		clone := *rec
		matched = append(matched, &clone)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if limit := normalizeLimit(filter.Limit); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *JSONStore) FindRecentAnalysis(_ context.Context, fingerprint string, since time.Time) (*AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *AnalysisRecord
	for _, rec := range s.data.Analyses {
		if rec.Fingerprint != fingerprint || rec.Status != StatusCompleted || rec.ReusedFromID != "" {
			continue
		}
		if rec.CreatedAt.Before(since) {
			continue
		}
		if best == nil || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
		}
	}
	if best == nil {
		return nil, nil
	}
	clone := *best
	return &clone, nil
}

func (s *JSONStore) Close() error {
	var flushErr error
	s.closeOnce.Do(func() {
		s.log.Info("store.json.closing")
		close(s.stopFlush)
		flushErr = s.flush()
	})
	return flushErr
}
