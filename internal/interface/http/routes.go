package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/nurkids/nur-learning-hub/internal/application/command"
	"github.com/nurkids/nur-learning-hub/internal/application/query"
	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUESTS AND RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

type completePhaseRequest struct {
	Phase      string     `json:"phase"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
	Timezone   string     `json:"timezone,omitempty"`
}

type practiceRequest struct {
	Correct    bool       `json:"correct"`
	TriesSoFar int        `json:"tries_so_far"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
	Timezone   string     `json:"timezone,omitempty"`
}

type familyActivityRequest struct {
	ActivityID string     `json:"activity_id"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

type resetRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

type phaseResponse struct {
	Lesson          query.LessonProgressDTO `json:"lesson"`
	LessonCompleted bool                    `json:"lesson_completed"`
	XPAwarded       int                     `json:"xp_awarded,omitempty"`
	TotalXP         *int                    `json:"total_xp,omitempty"`
	CurrentStreak   *int                    `json:"current_streak,omitempty"`
	NewAchievements []string                `json:"new_achievements,omitempty"`
}

type practiceResponse struct {
	Outcome      string                  `json:"outcome"`
	TriesUsed    int                     `json:"tries_used"`
	RevealAnswer bool                    `json:"reveal_answer"`
	Score        int                     `json:"score"`
	Lesson       query.LessonProgressDTO `json:"lesson"`
}

type familyActivityResponse struct {
	Recorded        bool     `json:"recorded"`
	NewAchievements []string `json:"new_achievements,omitempty"`
}

type resetResponse struct {
	AuditID             string `json:"audit_id"`
	ProgressDeleted     int    `json:"progress_deleted"`
	AchievementsDeleted int    `json:"achievements_deleted"`
	ActivitiesDeleted   int    `json:"activities_deleted"`
	PreviousTotalXP     int    `json:"previous_total_xp"`
}

type snapshotResponse struct {
	EntryID string `json:"entry_id"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleCompletePhase(w http.ResponseWriter, r *http.Request) {
	var req completePhaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	cmd := command.CompletePhaseCommand{
		LearnerID:     r.PathValue("learnerID"),
		LessonID:      r.PathValue("lessonID"),
		Phase:         req.Phase,
		OccurredAt:    derefTime(req.OccurredAt),
		Timezone:      req.Timezone,
		CorrelationID: getRequestID(r.Context()),
	}
	if err := cmd.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.deps.CompletePhase.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := phaseResponse{
		Lesson:          query.NewLessonProgressDTO(res.Progress),
		LessonCompleted: res.LessonCompleted,
		XPAwarded:       res.XPAwarded,
		NewAchievements: achievementKinds(res.NewAchievements),
	}
	if res.Profile != nil {
		total, streak := res.Profile.TotalXP, res.Profile.CurrentStreak
		resp.TotalXP, resp.CurrentStreak = &total, &streak
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleSubmitPractice(w http.ResponseWriter, r *http.Request) {
	var req practiceRequest
	if !s.decode(w, r, &req) {
		return
	}
	cmd := command.SubmitPracticeAnswerCommand{
		LearnerID:     r.PathValue("learnerID"),
		LessonID:      r.PathValue("lessonID"),
		Correct:       req.Correct,
		TriesSoFar:    req.TriesSoFar,
		OccurredAt:    derefTime(req.OccurredAt),
		Timezone:      req.Timezone,
		CorrelationID: getRequestID(r.Context()),
	}
	if err := cmd.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.deps.SubmitPractice.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, practiceResponse{
		Outcome:      string(res.Outcome),
		TriesUsed:    res.TriesUsed,
		RevealAnswer: res.RevealAnswer,
		Score:        res.Score,
		Lesson:       query.NewLessonProgressDTO(res.Progress),
	})
}

func (s *Server) handleRestartLesson(w http.ResponseWriter, r *http.Request) {
	cmd := command.RestartLessonCommand{
		LearnerID:     r.PathValue("learnerID"),
		LessonID:      r.PathValue("lessonID"),
		CorrelationID: getRequestID(r.Context()),
	}
	res, err := s.deps.RestartLesson.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, query.NewLessonProgressDTO(res.Progress))
}

func (s *Server) handleRecordFamilyActivity(w http.ResponseWriter, r *http.Request) {
	var req familyActivityRequest
	if !s.decode(w, r, &req) {
		return
	}
	cmd := command.RecordFamilyActivityCommand{
		LearnerID:     r.PathValue("learnerID"),
		ActivityID:    req.ActivityID,
		OccurredAt:    derefTime(req.OccurredAt),
		CorrelationID: getRequestID(r.Context()),
	}
	if err := cmd.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.deps.RecordFamily.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, familyActivityResponse{
		Recorded:        res.Recorded,
		NewAchievements: achievementKinds(res.NewAchievements),
	})
}

func (s *Server) handleMarkAchievementSeen(w http.ResponseWriter, r *http.Request) {
	cmd := command.MarkAchievementSeenCommand{
		LearnerID:     r.PathValue("learnerID"),
		AchievementID: r.PathValue("achievementID"),
	}
	if err := s.deps.MarkAchievementSeen.Handle(r.Context(), cmd); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetLearner(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !s.decode(w, r, &req) {
		return
	}
	cmd := command.ResetLearnerCommand{
		LearnerID:     r.PathValue("learnerID"),
		Actor:         req.Actor,
		Reason:        req.Reason,
		CorrelationID: getRequestID(r.Context()),
	}
	if err := cmd.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.deps.ResetLearner.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Warn("learner reset",
		logger.LearnerID(cmd.LearnerID),
		logger.String("actor", cmd.Actor),
		logger.String("audit_id", res.Audit.ID))
	writeJSON(w, r, http.StatusOK, resetResponse{
		AuditID:             res.Audit.ID,
		ProgressDeleted:     res.Audit.ProgressDeleted,
		AchievementsDeleted: res.Audit.AchievementsDeleted,
		ActivitiesDeleted:   res.Audit.ActivitiesDeleted,
		PreviousTotalXP:     res.Audit.PreviousProfile.TotalXP,
	})
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	q := query.GetLearnerProgressQuery{
		LearnerID:      r.PathValue("learnerID"),
		Timezone:       r.URL.Query().Get("timezone"),
		IncludeLessons: r.URL.Query().Get("lessons") == "true",
	}
	dto, err := s.deps.GetProgress.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

func (s *Server) handlePublishSnapshot(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
		return
	}
	id, err := s.deps.Snapshots.PublishPayload(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, snapshotResponse{EntryID: id})
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

// writeError maps domain errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", getRequestID(r.Context())),
			logger.Err(err))
		writeJSONError(w, status, code, "An unexpected error occurred")
		return
	}
	writeJSONError(w, status, code, err.Error())
}

func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrOutOfOrderTransition):
		return http.StatusConflict, "out_of_order_transition"
	case errors.Is(err, shared.ErrFreezeAlreadyGranted):
		return http.StatusConflict, "freeze_already_granted"
	case errors.Is(err, shared.ErrLessonAlreadyDone), errors.Is(err, shared.ErrNotInPractice):
		return http.StatusConflict, "invalid_lesson_state"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsValidation(err), errors.Is(err, shared.ErrInvalidFormat):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, shared.ErrLockNotAcquired), errors.Is(err, shared.ErrConcurrentModification):
		return http.StatusConflict, "busy"
	case shared.IsRetryable(err):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_server_error"
	}
}

func achievementKinds(achievements []learner.Achievement) []string {
	if len(achievements) == 0 {
		return nil
	}
	out := make([]string, len(achievements))
	for i, a := range achievements {
		out[i] = a.Kind.String()
	}
	return out
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
