package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"AsmrPipeline/internal/domain"
	"AsmrPipeline/internal/ports"
)

// memStore is an in-memory RunStore + StateStore for the usecase tests. It
// tracks the highest number of simultaneously in-flight records ever
// observed, so tests can assert the single-flight invariant.
type memStore struct {
	mu         sync.Mutex
	runs       map[string]domain.RunRecord
	order      []string
	saves      []domain.RunRecord
	stateSaves []domain.ScheduleState
	state      domain.ScheduleState
	hasState   bool
	maxActive  int
	pruneCalls int
}

var _ ports.RunStore = (*memStore)(nil)
var _ ports.StateStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{runs: map[string]domain.RunRecord{}}
}

func (m *memStore) SaveRun(_ context.Context, rec domain.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[rec.RunID]; !ok {
		m.order = append(m.order, rec.RunID)
	}
	m.runs[rec.RunID] = rec
	m.saves = append(m.saves, rec)

	active := 0
	for _, r := range m.runs {
		if !r.Finished() {
			active++
		}
	}
	if active > m.maxActive {
		m.maxActive = active
	}
	return nil
}

func (m *memStore) Run(_ context.Context, runID string) (domain.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.runs[runID]
	if !ok {
		return domain.RunRecord{}, fmt.Errorf("run %s not found", runID)
	}
	return rec, nil
}

func (m *memStore) NonTerminalRuns(_ context.Context) ([]domain.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var active []domain.RunRecord
	for _, id := range m.order {
		if rec := m.runs[id]; !rec.Finished() {
			active = append(active, rec)
		}
	}
	return active, nil
}

func (m *memStore) ListRuns(_ context.Context, limit int) ([]domain.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := append([]string(nil), m.order...)
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	var records []domain.RunRecord
	for _, id := range ids {
		if limit > 0 && len(records) == limit {
			break
		}
		records = append(records, m.runs[id])
	}
	return records, nil
}

func (m *memStore) RecentThemes(_ context.Context, limit int) ([]string, error) {
	records, err := m.ListRuns(context.Background(), limit)
	if err != nil {
		return nil, err
	}

	var themes []string
	for _, rec := range records {
		if rec.Theme != "" {
			themes = append(themes, rec.Theme)
		}
	}
	return themes, nil
}

func (m *memStore) PruneRuns(_ context.Context, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneCalls++

	var terminal []string
	for _, id := range m.order {
		if m.runs[id].Finished() {
			terminal = append(terminal, id)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(terminal)))

	pruned := 0
	for i, id := range terminal {
		if i < keep {
			continue
		}
		delete(m.runs, id)
		pruned++
	}

	kept := m.order[:0]
	for _, id := range m.order {
		if _, ok := m.runs[id]; ok {
			kept = append(kept, id)
		}
	}
	m.order = kept
	return pruned, nil
}

func (m *memStore) LoadState(_ context.Context) (domain.ScheduleState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.hasState, nil
}

func (m *memStore) SaveState(_ context.Context, state domain.ScheduleState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.hasState = true
	m.stateSaves = append(m.stateSaves, state)
	return nil
}

func (m *memStore) records() []domain.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []domain.RunRecord
	for _, id := range m.order {
		records = append(records, m.runs[id])
	}
	return records
}

// Collaborator fakes with per-call scripted failures. A nil entry in errs
// means the call succeeds; once the script runs out, calls succeed.

type fakeGenerator struct {
	mu    sync.Mutex
	brief domain.Brief
	errs  []error
	calls int
}

func (f *fakeGenerator) Generate(context.Context) (domain.Brief, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.nextErr(); err != nil {
		return domain.Brief{}, err
	}
	return f.brief, nil
}

func (f *fakeGenerator) nextErr() error {
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

type fakeSynthesizer struct {
	mu     sync.Mutex
	bundle domain.MediaBundle
	errs   []error
	calls  int
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, _ string, _ domain.Brief) (domain.MediaBundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return domain.MediaBundle{}, err
		}
	}
	return f.bundle, nil
}

type fakeRenderer struct {
	mu       sync.Mutex
	artifact domain.Artifact
	errs     []error
	calls    int
}

func (f *fakeRenderer) Render(_ context.Context, _ string, _ domain.MediaBundle) (domain.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return domain.Artifact{}, err
		}
	}
	return f.artifact, nil
}

type fakePublisher struct {
	mu    sync.Mutex
	id    string
	errs  []error
	calls int
	meta  domain.VideoMetadata
}

func (f *fakePublisher) Publish(_ context.Context, _ domain.Artifact, meta domain.VideoMetadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.meta = meta
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return f.id, nil
}

// instantRetry is the production policy without real sleeps.
func instantRetry(maxAttempts int) RetryPolicy {
	policy := NewRetryPolicy(maxAttempts, time.Millisecond)
	policy.sleep = func(context.Context, time.Duration) error { return nil }
	return policy
}
