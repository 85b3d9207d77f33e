package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE & UNIT OF WORK
// ══════════════════════════════════════════════════════════════════════════════

// Store implements progression.Store on PostgreSQL. Outside a unit of work the
// repositories run on the pool; inside one they share a pgx transaction.
type Store struct {
	conn *Connection

	practitioners *PractitionerRepository
	history       *HistoryRepository
	requests      *RequestRepository
}

var _ progression.Store = (*Store)(nil)

// NewStore creates a new Store.
func NewStore(conn *Connection) *Store {
	return &Store{
		conn:          conn,
		practitioners: NewPractitionerRepository(conn),
		history:       NewHistoryRepository(conn),
		requests:      NewRequestRepository(conn),
	}
}

// Practitioners implements progression.Repositories.
func (s *Store) Practitioners() progression.PractitionerRepository { return s.practitioners }

// History implements progression.Repositories.
func (s *Store) History() progression.HistoryRepository { return s.history }

// Requests implements progression.Repositories.
func (s *Store) Requests() progression.RequestRepository { return s.requests }

// Begin starts a read-committed transaction. Rows read for update are
// locked with SELECT ... FOR UPDATE by the practitioner repository.
func (s *Store) Begin(ctx context.Context) (progression.UnitOfWork, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &unitOfWork{
		tx:            tx,
		practitioners: &PractitionerRepository{q: tx, forUpdate: true},
		history:       &HistoryRepository{q: tx},
		requests:      &RequestRepository{q: tx},
	}, nil
}

type unitOfWork struct {
	tx pgx.Tx

	practitioners *PractitionerRepository
	history       *HistoryRepository
	requests      *RequestRepository
}

func (u *unitOfWork) Practitioners() progression.PractitionerRepository { return u.practitioners }
func (u *unitOfWork) History() progression.HistoryRepository { return u.history }
func (u *unitOfWork) Requests() progression.RequestRepository { return u.requests }

func (u *unitOfWork) Commit(ctx context.Context) error {
	if err := u.tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	return nil
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
