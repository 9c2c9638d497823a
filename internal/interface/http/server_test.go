package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurkids/nur-learning-hub/internal/application/command"
	"github.com/nurkids/nur-learning-hub/internal/application/query"
	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/internal/interface/http/handlers"
)

var now = time.Date(2024, 9, 2, 17, 0, 0, 0, time.UTC)

type phaseFunc func(context.Context, command.CompletePhaseCommand) (*command.CompletePhaseResult, error)

func (f phaseFunc) Handle(ctx context.Context, cmd command.CompletePhaseCommand) (*command.CompletePhaseResult, error) {
	return f(ctx, cmd)
}

type progressFunc func(context.Context, query.GetLearnerProgressQuery) (*query.LearnerProgressDTO, error)

func (f progressFunc) Handle(ctx context.Context, q query.GetLearnerProgressQuery) (*query.LearnerProgressDTO, error) {
	return f(ctx, q)
}

type seenFunc func(context.Context, command.MarkAchievementSeenCommand) error

func (f seenFunc) Handle(ctx context.Context, cmd command.MarkAchievementSeenCommand) error {
	return f(ctx, cmd)
}

type resetFunc func(context.Context, command.ResetLearnerCommand) (*command.ResetLearnerResult, error)

func (f resetFunc) Handle(ctx context.Context, cmd command.ResetLearnerCommand) (*command.ResetLearnerResult, error) {
	return f(ctx, cmd)
}

type publisherFunc func(context.Context, []byte) (string, error)

func (f publisherFunc) PublishPayload(ctx context.Context, payload []byte) (string, error) {
	return f(ctx, payload)
}

func serve(t *testing.T, deps Dependencies, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	s := NewServer(DefaultConfig(), deps)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCompletePhase(t *testing.T) {
	var got command.CompletePhaseCommand
	deps := Dependencies{CompletePhase: phaseFunc(func(_ context.Context, cmd command.CompletePhaseCommand) (*command.CompletePhaseResult, error) {
		got = cmd
		p := lesson.NewProgress(cmd.LearnerID, cmd.LessonID, now)
		for _, ph := range lesson.AllPhases() {
			p, _, _ = lesson.TransitionPhase(p, ph, now)
		}
		profile := learner.NewProfile(cmd.LearnerID, now)
		profile.TotalXP, profile.CurrentStreak = 165, 1
		return &command.CompletePhaseResult{
			Progress:        p,
			LessonCompleted: true,
			XPAwarded:       165,
			Profile:         &profile,
			NewAchievements: []learner.Achievement{{Kind: learner.AchievementFirstLesson}},
		}, nil
	})}

	rec := serve(t, deps, http.MethodPost, "/api/v1/learners/learner-1/lessons/pillars-salah-01/phases",
		`{"phase":"reward","timezone":"Asia/Almaty"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "learner-1", got.LearnerID)
	assert.Equal(t, "pillars-salah-01", got.LessonID)
	assert.Equal(t, "reward", got.Phase)
	assert.NotEmpty(t, got.CorrelationID)
	assert.Equal(t, got.CorrelationID, rec.Header().Get("X-Request-ID"))

	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, true, data["lesson_completed"])
	assert.EqualValues(t, 165, data["total_xp"])
	assert.Equal(t, "completed", data["lesson"].(map[string]any)["state"])
	assert.Equal(t, []any{string(learner.AchievementFirstLesson)}, data["new_achievements"])
}

func TestCompletePhase_Errors(t *testing.T) {
	fail := func(err error) Dependencies {
		return Dependencies{CompletePhase: phaseFunc(func(context.Context, command.CompletePhaseCommand) (*command.CompletePhaseResult, error) {
			return nil, err
		})}
	}
	path := "/api/v1/learners/learner-1/lessons/pillars-salah-01/phases"

	tests := []struct {
		name   string
		deps   Dependencies
		body   string
		status int
		code   string
	}{
		{"bad json", fail(nil), `{"phase":`, http.StatusBadRequest, "invalid_json"},
		{"unknown field", fail(nil), `{"phase":"hook","extra":1}`, http.StatusBadRequest, "invalid_json"},
		{"missing phase", fail(nil), `{}`, http.StatusBadRequest, "invalid_request"},
		{"out of order", fail(shared.ErrOutOfOrderTransition), `{"phase":"practice"}`, http.StatusConflict, "out_of_order_transition"},
		{"unknown phase", fail(shared.ErrUnknownPhase), `{"phase":"quiz"}`, http.StatusBadRequest, "invalid_request"},
		{"busy", fail(shared.ErrLockNotAcquired), `{"phase":"hook"}`, http.StatusConflict, "busy"},
		{"store down", fail(shared.ErrServiceUnavailable), `{"phase":"hook"}`, http.StatusServiceUnavailable, "unavailable"},
		{"unexpected", fail(errors.New("disk on fire")), `{"phase":"hook"}`, http.StatusInternalServerError, "internal_server_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, tt.deps, http.MethodPost, path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.code, body["error"].(map[string]any)["code"])
		})
	}
}

func TestGetProgress(t *testing.T) {
	deps := Dependencies{GetProgress: progressFunc(func(_ context.Context, q query.GetLearnerProgressQuery) (*query.LearnerProgressDTO, error) {
		if q.LearnerID != "learner-1" {
			return nil, shared.ErrLearnerNotFound
		}
		assert.True(t, q.IncludeLessons)
		assert.Equal(t, "Asia/Almaty", q.Timezone)
		return &query.LearnerProgressDTO{LearnerID: q.LearnerID, TotalXP: 40}, nil
	})}

	rec := serve(t, deps, http.MethodGet, "/api/v1/learners/learner-1/progress?lessons=true&timezone=Asia/Almaty", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 40, decodeBody(t, rec)["data"].(map[string]any)["total_xp"])

	rec = serve(t, deps, http.MethodGet, "/api/v1/learners/ghost/progress?lessons=true&timezone=Asia/Almaty", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarkAchievementSeen(t *testing.T) {
	deps := Dependencies{MarkAchievementSeen: seenFunc(func(_ context.Context, cmd command.MarkAchievementSeenCommand) error {
		if cmd.AchievementID != "a-1" {
			return shared.ErrAchievementNotFound
		}
		return nil
	})}

	rec := serve(t, deps, http.MethodPost, "/api/v1/learners/learner-1/achievements/a-1/seen", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(t, deps, http.MethodPost, "/api/v1/learners/learner-1/achievements/a-2/seen", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetLearner(t *testing.T) {
	deps := Dependencies{ResetLearner: resetFunc(func(_ context.Context, cmd command.ResetLearnerCommand) (*command.ResetLearnerResult, error) {
		prev := learner.NewProfile(cmd.LearnerID, now)
		prev.TotalXP = 420
		return &command.ResetLearnerResult{
			Audit: learner.ResetAudit{ID: "audit-1", LearnerID: cmd.LearnerID, Actor: cmd.Actor, ProgressDeleted: 7, PreviousProfile: prev},
		}, nil
	})}
	path := "/api/v1/admin/learners/learner-1/reset"

	rec := serve(t, deps, http.MethodPost, path, `{"actor":"support:amina","reason":"parent request"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, "audit-1", data["audit_id"])
	assert.EqualValues(t, 7, data["progress_deleted"])
	assert.EqualValues(t, 420, data["previous_total_xp"])

	rec = serve(t, deps, http.MethodPost, path, `{"actor":"support:amina"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublishSnapshot(t *testing.T) {
	var received string
	deps := Dependencies{Snapshots: publisherFunc(func(_ context.Context, payload []byte) (string, error) {
		received = string(payload)
		if strings.Contains(received, "quiz") {
			return "", shared.ErrInvalidInput
		}
		return "1700000000000-0", nil
	})}

	rec := serve(t, deps, http.MethodPost, "/api/v1/snapshots", `{"learner_id":"learner-1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, `{"learner_id":"learner-1"}`, received)
	assert.Equal(t, "1700000000000-0", decodeBody(t, rec)["data"].(map[string]any)["entry_id"])

	rec = serve(t, deps, http.MethodPost, "/api/v1/snapshots", `{"last_completed_phase":"quiz"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoutesAreOptional(t *testing.T) {
	rec := serve(t, Dependencies{}, http.MethodPost, "/api/v1/snapshots", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	rec := serve(t, Dependencies{HealthChecker: checker}, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(t, Dependencies{}, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	deps := Dependencies{CompletePhase: phaseFunc(func(context.Context, command.CompletePhaseCommand) (*command.CompletePhaseResult, error) {
		panic("nil catalog")
	})}
	rec := serve(t, deps, http.MethodPost, "/api/v1/learners/learner-1/lessons/l/phases", `{"phase":"hook"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
