package learner

import (
	"context"
	"time"

	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository хранит профили учеников.
type Repository interface {
	// GetProfile возвращает профиль.
	// Возвращает ErrLearnerNotFound, если профиля нет.
	GetProfile(ctx context.Context, learnerID string) (*Profile, error)

	// SaveProfile вставляет или обновляет профиль.
	SaveProfile(ctx context.Context, p *Profile) error

	// ListActiveSince возвращает профили с завершениями после since.
	ListActiveSince(ctx context.Context, since time.Time, page shared.Pagination) ([]*Profile, error)
}

// AchievementRepository хранит достижения.
type AchievementRepository interface {
	// ListByLearner возвращает все достижения ученика.
	ListByLearner(ctx context.Context, learnerID string) ([]Achievement, error)

	// Create сохраняет новое достижение.
	// Возвращает ErrAlreadyExists, если этот тип уже получен.
	Create(ctx context.Context, a *Achievement) error

	// MarkSeen отмечает достижение просмотренным.
	// Возвращает ErrAchievementNotFound, если записи нет.
	MarkSeen(ctx context.Context, learnerID, achievementID string) error

	// DeleteByLearner удаляет все достижения ученика. Возвращает число строк.
	DeleteByLearner(ctx context.Context, learnerID string) (int, error)
}

// FamilyActivity - выполненное семейное задание.
type FamilyActivity struct {
	ID          string
	LearnerID   string
	ActivityID  string
	CompletedAt time.Time
}

// FamilyActivityRepository хранит семейные задания.
type FamilyActivityRepository interface {
	// Record сохраняет выполнение. Повтор того же ActivityID не создаёт новую запись.
	// Возвращает true, если запись новая.
	Record(ctx context.Context, a *FamilyActivity) (bool, error)

	// Count возвращает число выполненных заданий.
	Count(ctx context.Context, learnerID string) (int, error)

	// DeleteByLearner удаляет все задания ученика. Возвращает число строк.
	DeleteByLearner(ctx context.Context, learnerID string) (int, error)
}

// ResetAudit - запись аудита явного сброса прогресса.
type ResetAudit struct {
	ID                  string
	LearnerID           string
	Actor               string
	Reason              string
	ProgressDeleted     int
	AchievementsDeleted int
	ActivitiesDeleted   int
	PreviousProfile     Profile
	CreatedAt           time.Time
}

// AuditRepository хранит записи аудита.
type AuditRepository interface {
	// RecordReset сохраняет запись о сбросе.
	RecordReset(ctx context.Context, a *ResetAudit) error

	// LastResetAt возвращает время последнего сброса ученика
	// или нулевое время, если сбросов не было.
	LastResetAt(ctx context.Context, learnerID string) (time.Time, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// ══════════════════════════════════════════════════════════════════════════════

// UnitOfWork представляет единицу работы с транзакционной семантикой.
type UnitOfWork interface {
	// Profiles возвращает репозиторий профилей в рамках транзакции.
	Profiles() Repository

	// Progress возвращает репозиторий прогресса в рамках транзакции.
	Progress() lesson.ProgressRepository

	// Achievements возвращает репозиторий достижений в рамках транзакции.
	Achievements() AchievementRepository

	// FamilyActivities возвращает репозиторий семейных заданий.
	FamilyActivities() FamilyActivityRepository

	// Audit возвращает репозиторий аудита.
	Audit() AuditRepository

	// Commit фиксирует транзакцию.
	Commit(ctx context.Context) error

	// Rollback откатывает транзакцию.
	Rollback(ctx context.Context) error
}

// UnitOfWorkFactory создаёт единицы работы.
type UnitOfWorkFactory interface {
	// Begin начинает новую транзакцию.
	Begin(ctx context.Context) (UnitOfWork, error)
}
