package redis

import (
	"fmt"
	"time"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
	"github.com/nurkids/nur-learning-hub/internal/domain/reconcile"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE DTOs
// The JSON shape shared by the profile cache and the snapshot feed.
// Phases travel as their raw strings ("hook", "teach", ...).
// ══════════════════════════════════════════════════════════════════════════════

// ProfileDTO is the JSON form of learner.Profile.
type ProfileDTO struct {
	ID                    string     `json:"id"`
	TotalXP               int        `json:"total_xp"`
	CurrentStreak         int        `json:"current_streak"`
	LongestStreak         int        `json:"longest_streak"`
	TotalLessonsCompleted int        `json:"total_lessons_completed"`
	LastLessonCompletedAt *time.Time `json:"last_lesson_completed_at,omitempty"`
	StreakFreezeBalance   int        `json:"streak_freeze_balance"`
	LastFreezeGrantedAt   *time.Time `json:"last_freeze_granted_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// ProgressDTO is the JSON form of lesson.Progress.
type ProgressDTO struct {
	LearnerID          string               `json:"learner_id"`
	LessonID           string               `json:"lesson_id"`
	IsCompleted        bool                 `json:"is_completed"`
	CompletedAt        *time.Time           `json:"completed_at,omitempty"`
	Score              int                  `json:"score"`
	XPEarned           int                  `json:"xp_earned"`
	Attempts           int                  `json:"attempts"`
	LastCompletedPhase string               `json:"last_completed_phase"`
	Phases             map[string]time.Time `json:"phases,omitempty"`
	LastAccessedAt     time.Time            `json:"last_accessed_at"`
}

// SnapshotDTO is one device snapshot on the feed.
type SnapshotDTO struct {
	LearnerID  string        `json:"learner_id"`
	DeviceID   string        `json:"device_id,omitempty"`
	CapturedAt time.Time     `json:"captured_at"`
	Profile    *ProfileDTO   `json:"profile,omitempty"`
	Progress   []ProgressDTO `json:"progress"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Mappers
// ─────────────────────────────────────────────────────────────────────────────

// ToProfileDTO converts a domain profile.
func ToProfileDTO(p learner.Profile) ProfileDTO {
	return ProfileDTO{
		ID:                    p.ID,
		TotalXP:               p.TotalXP,
		CurrentStreak:         p.CurrentStreak,
		LongestStreak:         p.LongestStreak,
		TotalLessonsCompleted: p.TotalLessonsCompleted,
		LastLessonCompletedAt: optionalTime(p.LastLessonCompletedAt),
		StreakFreezeBalance:   p.StreakFreezeBalance,
		LastFreezeGrantedAt:   optionalTime(p.LastFreezeGrantedAt),
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

// ToDomain converts back to a domain profile.
func (d ProfileDTO) ToDomain() learner.Profile {
	return learner.Profile{
		ID:                    d.ID,
		TotalXP:               d.TotalXP,
		CurrentStreak:         d.CurrentStreak,
		LongestStreak:         d.LongestStreak,
		TotalLessonsCompleted: d.TotalLessonsCompleted,
		LastLessonCompletedAt: derefTime(d.LastLessonCompletedAt),
		StreakFreezeBalance:   d.StreakFreezeBalance,
		LastFreezeGrantedAt:   derefTime(d.LastFreezeGrantedAt),
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
}

// ToProgressDTO converts a domain progress record.
func ToProgressDTO(p lesson.Progress) ProgressDTO {
	d := ProgressDTO{
		LearnerID:          p.LearnerID,
		LessonID:           p.LessonID,
		IsCompleted:        p.IsCompleted,
		CompletedAt:        optionalTime(p.CompletedAt),
		Score:              p.Score,
		XPEarned:           p.XPEarned,
		Attempts:           p.Attempts,
		LastCompletedPhase: rawPhase(p.LastCompletedPhase),
		LastAccessedAt:     p.LastAccessedAt,
	}
	for _, ph := range p.Phases.Recorded() {
		if d.Phases == nil {
			d.Phases = make(map[string]time.Time, lesson.PhaseCount)
		}
		ts, _ := p.Phases.At(ph)
		d.Phases[ph.String()] = ts
	}
	return d
}

// ToDomain converts back to a domain progress record. Unknown phase strings
// are rejected with ErrUnknownPhase.
func (d ProgressDTO) ToDomain() (lesson.Progress, error) {
	last, err := lesson.ParsePhase(d.LastCompletedPhase)
	if err != nil {
		return lesson.Progress{}, fmt.Errorf("lesson %s: %w", d.LessonID, err)
	}

	p := lesson.Progress{
		LearnerID:          d.LearnerID,
		LessonID:           d.LessonID,
		IsCompleted:        d.IsCompleted,
		CompletedAt:        derefTime(d.CompletedAt),
		Score:              d.Score,
		XPEarned:           d.XPEarned,
		Attempts:           d.Attempts,
		LastCompletedPhase: last,
		LastAccessedAt:     d.LastAccessedAt,
	}
	for raw, ts := range d.Phases {
		ph, err := lesson.ParsePhase(raw)
		if err != nil || ph == lesson.PhaseNone {
			return lesson.Progress{}, fmt.Errorf("lesson %s: phase log key %q: %w", d.LessonID, raw, shared.ErrUnknownPhase)
		}
		p.Phases.Set(ph, ts)
	}
	return p, nil
}

// ToSnapshotDTO converts a domain snapshot.
func ToSnapshotDTO(s reconcile.Snapshot) SnapshotDTO {
	d := SnapshotDTO{
		LearnerID:  s.LearnerID,
		DeviceID:   s.DeviceID,
		CapturedAt: s.CapturedAt,
		Progress:   make([]ProgressDTO, 0, len(s.Progress)),
	}
	if s.Profile != nil {
		pd := ToProfileDTO(*s.Profile)
		d.Profile = &pd
	}
	for _, p := range s.Progress {
		d.Progress = append(d.Progress, ToProgressDTO(p))
	}
	return d
}

// ToDomain converts back to a domain snapshot.
func (d SnapshotDTO) ToDomain() (reconcile.Snapshot, error) {
	s := reconcile.Snapshot{
		LearnerID:  d.LearnerID,
		DeviceID:   d.DeviceID,
		CapturedAt: d.CapturedAt,
		Progress:   make([]lesson.Progress, 0, len(d.Progress)),
	}
	if d.Profile != nil {
		p := d.Profile.ToDomain()
		s.Profile = &p
	}
	for _, pd := range d.Progress {
		p, err := pd.ToDomain()
		if err != nil {
			return reconcile.Snapshot{}, err
		}
		s.Progress = append(s.Progress, p)
	}
	return s, nil
}

func rawPhase(p lesson.Phase) string {
	b, err := p.MarshalText()
	if err != nil {
		return p.String()
	}
	return string(b)
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
