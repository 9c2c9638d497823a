package command

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY STORE
// Begin takes a copy of the data and holds the store's tx lock until Commit or
// Rollback, which gives serializable transactions.
// ══════════════════════════════════════════════════════════════════════════════

type memData struct {
	profiles     map[string]learner.Profile
	progress     map[string]lesson.Progress
	achievements map[string][]learner.Achievement
	activities   map[string]map[string]learner.FamilyActivity
	audits       []learner.ResetAudit
}

func (d memData) clone() memData {
	c := memData{
		profiles:     make(map[string]learner.Profile, len(d.profiles)),
		progress:     make(map[string]lesson.Progress, len(d.progress)),
		achievements: make(map[string][]learner.Achievement, len(d.achievements)),
		activities:   make(map[string]map[string]learner.FamilyActivity, len(d.activities)),
		audits:       append([]learner.ResetAudit(nil), d.audits...),
	}
	for k, v := range d.profiles {
		c.profiles[k] = v
	}
	for k, v := range d.progress {
		c.progress[k] = v
	}
	for k, v := range d.achievements {
		c.achievements[k] = append([]learner.Achievement(nil), v...)
	}
	for k, v := range d.activities {
		m := make(map[string]learner.FamilyActivity, len(v))
		for ak, av := range v {
			m[ak] = av
		}
		c.activities[k] = m
	}
	return c
}

type memStore struct {
	tx      sync.Mutex
	data    memData
	commits int

	// broken makes reads of the listed lesson records fail.
	broken map[string]error
}

func newMemStore() *memStore {
	return &memStore{data: memData{}.clone()}
}

func (s *memStore) Begin(context.Context) (learner.UnitOfWork, error) {
	s.tx.Lock()
	return &memUoW{store: s, data: s.data.clone()}, nil
}

func (s *memStore) profile(id string) (learner.Profile, bool) {
	s.tx.Lock()
	defer s.tx.Unlock()
	p, ok := s.data.profiles[id]
	return p, ok
}

func (s *memStore) putProfile(p learner.Profile) {
	s.tx.Lock()
	defer s.tx.Unlock()
	s.data.profiles[p.ID] = p
}

func (s *memStore) progressOf(learnerID, lessonID string) (lesson.Progress, bool) {
	s.tx.Lock()
	defer s.tx.Unlock()
	p, ok := s.data.progress[progressID(learnerID, lessonID)]
	return p, ok
}

func (s *memStore) putProgress(p lesson.Progress) {
	s.tx.Lock()
	defer s.tx.Unlock()
	s.data.progress[progressID(p.LearnerID, p.LessonID)] = p
}

func (s *memStore) achievementsOf(learnerID string) []learner.Achievement {
	s.tx.Lock()
	defer s.tx.Unlock()
	return append([]learner.Achievement(nil), s.data.achievements[learnerID]...)
}

func (s *memStore) auditCount() int {
	s.tx.Lock()
	defer s.tx.Unlock()
	return len(s.data.audits)
}

func progressID(learnerID, lessonID string) string {
	return learnerID + "|" + lessonID
}

type memUoW struct {
	store *memStore
	data  memData
	done  bool
}

func (u *memUoW) Profiles() learner.Repository                       { return memProfiles{u} }
func (u *memUoW) Progress() lesson.ProgressRepository                { return memProgress{u} }
func (u *memUoW) Achievements() learner.AchievementRepository        { return memAchievements{u} }
func (u *memUoW) FamilyActivities() learner.FamilyActivityRepository { return memActivities{u} }
func (u *memUoW) Audit() learner.AuditRepository                     { return memAudit{u} }

func (u *memUoW) Commit(context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	u.store.data = u.data
	u.store.commits++
	u.store.tx.Unlock()
	return nil
}

func (u *memUoW) Rollback(context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	u.store.tx.Unlock()
	return nil
}

type memProfiles struct{ u *memUoW }

func (r memProfiles) GetProfile(_ context.Context, id string) (*learner.Profile, error) {
	p, ok := r.u.data.profiles[id]
	if !ok {
		return nil, shared.ErrLearnerNotFound
	}
	return &p, nil
}

func (r memProfiles) SaveProfile(_ context.Context, p *learner.Profile) error {
	r.u.data.profiles[p.ID] = *p
	return nil
}

func (r memProfiles) ListActiveSince(_ context.Context, since time.Time, page shared.Pagination) ([]*learner.Profile, error) {
	var ids []string
	for id, p := range r.u.data.profiles {
		if p.LastLessonCompletedAt.After(since) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]*learner.Profile, 0, page.Limit())
	for i := page.Offset(); i < len(ids) && len(out) < page.Limit(); i++ {
		p := r.u.data.profiles[ids[i]]
		out = append(out, &p)
	}
	return out, nil
}

type memProgress struct{ u *memUoW }

func (r memProgress) Get(_ context.Context, learnerID, lessonID string) (*lesson.Progress, error) {
	if err := r.u.store.broken[lessonID]; err != nil {
		return nil, err
	}
	p, ok := r.u.data.progress[progressID(learnerID, lessonID)]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	return &p, nil
}

func (r memProgress) Save(_ context.Context, p *lesson.Progress) error {
	r.u.data.progress[progressID(p.LearnerID, p.LessonID)] = *p
	return nil
}

func (r memProgress) ListByLearner(_ context.Context, learnerID string) ([]*lesson.Progress, error) {
	var out []*lesson.Progress
	for _, p := range r.u.data.progress {
		if p.LearnerID == learnerID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessonID < out[j].LessonID })
	return out, nil
}

func (r memProgress) CompletedLessonIDs(_ context.Context, learnerID string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, p := range r.u.data.progress {
		if p.LearnerID == learnerID && p.IsCompleted {
			out[p.LessonID] = true
		}
	}
	return out, nil
}

func (r memProgress) DeleteByLearner(_ context.Context, learnerID string) (int, error) {
	n := 0
	for k, p := range r.u.data.progress {
		if p.LearnerID == learnerID {
			delete(r.u.data.progress, k)
			n++
		}
	}
	return n, nil
}

type memAchievements struct{ u *memUoW }

func (r memAchievements) ListByLearner(_ context.Context, learnerID string) ([]learner.Achievement, error) {
	return append([]learner.Achievement(nil), r.u.data.achievements[learnerID]...), nil
}

func (r memAchievements) Create(_ context.Context, a *learner.Achievement) error {
	for _, existing := range r.u.data.achievements[a.LearnerID] {
		if existing.Kind == a.Kind {
			return shared.ErrAlreadyExists
		}
	}
	r.u.data.achievements[a.LearnerID] = append(r.u.data.achievements[a.LearnerID], *a)
	return nil
}

func (r memAchievements) MarkSeen(_ context.Context, learnerID, achievementID string) error {
	list := r.u.data.achievements[learnerID]
	for i := range list {
		if list[i].ID == achievementID {
			list[i].MarkSeen()
			return nil
		}
	}
	return shared.ErrAchievementNotFound
}

func (r memAchievements) DeleteByLearner(_ context.Context, learnerID string) (int, error) {
	n := len(r.u.data.achievements[learnerID])
	delete(r.u.data.achievements, learnerID)
	return n, nil
}

type memActivities struct{ u *memUoW }

func (r memActivities) Record(_ context.Context, a *learner.FamilyActivity) (bool, error) {
	m, ok := r.u.data.activities[a.LearnerID]
	if !ok {
		m = make(map[string]learner.FamilyActivity)
		r.u.data.activities[a.LearnerID] = m
	}
	if _, dup := m[a.ActivityID]; dup {
		return false, nil
	}
	m[a.ActivityID] = *a
	return true, nil
}

func (r memActivities) Count(_ context.Context, learnerID string) (int, error) {
	return len(r.u.data.activities[learnerID]), nil
}

func (r memActivities) DeleteByLearner(_ context.Context, learnerID string) (int, error) {
	n := len(r.u.data.activities[learnerID])
	delete(r.u.data.activities, learnerID)
	return n, nil
}

type memAudit struct{ u *memUoW }

func (r memAudit) RecordReset(_ context.Context, a *learner.ResetAudit) error {
	r.u.data.audits = append(r.u.data.audits, *a)
	return nil
}

func (r memAudit) LastResetAt(_ context.Context, learnerID string) (time.Time, error) {
	var last time.Time
	for _, a := range r.u.data.audits {
		if a.LearnerID == learnerID && a.CreatedAt.After(last) {
			last = a.CreatedAt
		}
	}
	return last, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG, PUBLISHER, DEDUPER
// ══════════════════════════════════════════════════════════════════════════════

type memCatalog map[string]lesson.LessonInfo

func (c memCatalog) GetLesson(_ context.Context, id string) (*lesson.LessonInfo, error) {
	info, ok := c[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &info, nil
}

func (c memCatalog) LessonsInCategory(_ context.Context, category string) ([]string, error) {
	var ids []string
	for id, info := range c {
		if info.Category == category {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (c memCatalog) Categories(context.Context) (map[string][]string, error) {
	out := make(map[string][]string)
	for id, info := range c {
		out[info.Category] = append(out[info.Category], id)
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

func (p *recordingPublisher) count(t shared.EventType) int {
	n := 0
	for _, et := range p.types() {
		if et == t {
			n++
		}
	}
	return n
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func sequentialIDs(prefix string) IDGenerator {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}
