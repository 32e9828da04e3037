package service

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memStore — Store в памяти. Транзакции выполняются строго по одной,
// при ошибке состояние откатывается к снимку.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextID   int64
	maps     map[int64]model.MapRecord
	versions []model.VersionRecord
	diffs    map[int64][]model.DifficultyRecord
	tiers    map[string]model.Tier

	// failures — ошибка, которую вернёт операция с этим именем
	failures map[string]error
	calls    map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		maps:     make(map[int64]model.MapRecord),
		diffs:    make(map[int64][]model.DifficultyRecord),
		tiers:    make(map[string]model.Tier),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

type memSnapshot struct {
	nextID   int64
	maps     map[int64]model.MapRecord
	versions []model.VersionRecord
	diffs    map[int64][]model.DifficultyRecord
}

func (s *memStore) Repos() repository.Repos {
	return repository.Repos{
		Maps:         memMaps{s},
		Versions:     memVersions{s},
		Difficulties: memDifficulties{s},
		Tiers:        memTiers{s},
	}
}

func (s *memStore) RunSerializable(_ context.Context, fn func(repos repository.Repos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(s.Repos()); err != nil {
		s.restore(snap)
		return err
	}
	if err := s.hit("commit"); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memSnapshot{
		nextID:   s.nextID,
		maps:     maps.Clone(s.maps),
		versions: slices.Clone(s.versions),
		diffs:    maps.Clone(s.diffs),
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.nextID
	s.maps = snap.maps
	s.versions = snap.versions
	s.diffs = snap.diffs
}

// hit учитывает вызов операции и возвращает заданную для неё ошибку.
func (s *memStore) hit(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.failures[op]
}

func (s *memStore) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *memStore) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

// addVersion добавляет версию в обход конвейера (подготовка данных).
func (s *memStore) addVersion(v model.VersionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.ID = s.id()
	s.versions = append(s.versions, v)
}

func (s *memStore) addMap(m model.MapRecord) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.id()
	s.maps[m.ID] = m
	return m.ID
}

func (s *memStore) versionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.versions)
}

func (s *memStore) getMap(id int64) (model.MapRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[id]
	return m, ok
}

// --- maps ---

type memMaps struct{ s *memStore }

func (r memMaps) GetForUpdate(_ context.Context, id int64) (*model.MapRecord, error) {
	if err := r.s.hit("maps.get"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.maps[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &m, nil
}

func (r memMaps) Create(_ context.Context, m *model.MapRecord) error {
	if err := r.s.hit("maps.create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m.ID = r.s.id()
	r.s.maps[m.ID] = *m
	return nil
}

func (r memMaps) Touch(_ context.Context, id int64, at time.Time) error {
	if err := r.s.hit("maps.touch"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.maps[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.UpdatedAt = at
	r.s.maps[id] = m
	return nil
}

// --- versions ---

type memVersions struct{ s *memStore }

func (r memVersions) ExistsByHash(_ context.Context, hash string) (bool, error) {
	if err := r.s.hit("versions.exists"); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, v := range r.s.versions {
		if v.Hash == hash {
			return true, nil
		}
	}
	return false, nil
}

func (r memVersions) RecentUploads(_ context.Context, mapID int64, limit int) ([]time.Time, error) {
	if err := r.s.hit("versions.recent"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var times []time.Time
	for _, v := range r.s.versions {
		if v.MapID == mapID {
			times = append(times, v.UploadedAt)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].After(times[j]) })
	if len(times) > limit {
		times = times[:limit]
	}
	return times, nil
}

func (r memVersions) CountUnpublished(_ context.Context, uploaderID string) (int, error) {
	if err := r.s.hit("versions.wip"); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, v := range r.s.versions {
		if r.s.maps[v.MapID].UploaderID == uploaderID && v.State != model.StatePublished {
			n++
		}
	}
	return n, nil
}

func (r memVersions) Create(_ context.Context, v *model.VersionRecord) error {
	if err := r.s.hit("versions.create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.versions {
		if existing.Hash == v.Hash {
			return repository.ErrConflict
		}
	}
	v.ID = r.s.id()
	r.s.versions = append(r.s.versions, *v)
	return nil
}

func (r memVersions) KnownHashes(_ context.Context, hashes []string) (map[string]bool, error) {
	if err := r.s.hit("versions.known"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	known := make(map[string]bool)
	for _, v := range r.s.versions {
		if slices.Contains(hashes, v.Hash) {
			known[v.Hash] = true
		}
	}
	return known, nil
}

// --- difficulties ---

type memDifficulties struct{ s *memStore }

func (r memDifficulties) CreateBatch(_ context.Context, versionID int64, diffs []model.DifficultyRecord) error {
	if err := r.s.hit("difficulties.create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range diffs {
		d.VersionID = versionID
		d.ID = r.s.id()
		r.s.diffs[versionID] = append(r.s.diffs[versionID], d)
	}
	return nil
}

func (r memDifficulties) ListByVersion(_ context.Context, versionID int64) ([]model.DifficultyRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return slices.Clone(r.s.diffs[versionID]), nil
}

// --- tiers ---

type memTiers struct{ s *memStore }

func (r memTiers) GetByUploader(_ context.Context, uploaderID string) (*model.Tier, error) {
	if err := r.s.hit("tiers.get"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tiers[uploaderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}
