package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// ══════════════════════════════════════════════════════════════════════════════

// UnitOfWorkFactory implements learner.UnitOfWorkFactory on pgx transactions.
type UnitOfWorkFactory struct {
	conn *Connection
	opts TxOptions
}

// NewUnitOfWorkFactory creates a factory using DefaultTxOptions.
func NewUnitOfWorkFactory(conn *Connection) *UnitOfWorkFactory {
	return &UnitOfWorkFactory{conn: conn, opts: DefaultTxOptions()}
}

// Begin starts a transaction and returns repositories bound to it.
func (f *UnitOfWorkFactory) Begin(ctx context.Context) (learner.UnitOfWork, error) {
	tx, err := f.conn.BeginTx(ctx, f.opts)
	if err != nil {
		return nil, err
	}
	return &unitOfWork{tx: tx}, nil
}

type unitOfWork struct {
	tx   pgx.Tx
	done bool
}

func (u *unitOfWork) Profiles() learner.Repository {
	return NewLearnerRepository(u.tx)
}

func (u *unitOfWork) Progress() lesson.ProgressRepository {
	return NewProgressRepository(u.tx)
}

func (u *unitOfWork) Achievements() learner.AchievementRepository {
	return NewAchievementRepository(u.tx)
}

func (u *unitOfWork) FamilyActivities() learner.FamilyActivityRepository {
	return NewFamilyActivityRepository(u.tx)
}

func (u *unitOfWork) Audit() learner.AuditRepository {
	return NewAuditRepository(u.tx)
}

// Commit commits the transaction.
func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return fmt.Errorf("%w: unit of work already finished", ErrTransactionFailed)
	}
	u.done = true
	if err := u.tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrTransactionFailed, mapError(err))
	}
	return nil
}

// Rollback rolls the transaction back. Rolling back a finished unit is a no-op.
func (u *unitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("%w: rollback: %w", ErrTransactionFailed, err)
	}
	return nil
}
