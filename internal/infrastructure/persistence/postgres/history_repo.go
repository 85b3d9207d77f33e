package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// HistoryRepository implements progression.HistoryRepository for PostgreSQL.
// Records are only ever inserted; the tables reject UPDATE and DELETE.
type HistoryRepository struct {
	q Querier
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(conn *Connection) *HistoryRepository {
	return &HistoryRepository{q: conn}
}

// AppendDegreeGrant inserts a degree grant record.
func (r *HistoryRepository) AppendDegreeGrant(ctx context.Context, rec progression.DegreeGrantRecord) error {
	query := `
		INSERT INTO degree_grants (
			id, practitioner_id, sequence, belt_code, degree,
			granted_at, granted_by, origin, request_id, note
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.q.Exec(ctx, query,
		rec.ID,
		rec.PractitionerID,
		rec.Sequence,
		rec.BeltCode,
		rec.Degree,
		rec.GrantedAt,
		rec.GrantedBy,
		string(rec.Origin),
		nullableString(rec.RequestID),
		rec.Note,
	)
	return r.appendError(err, rec)
}

// AppendBeltPromotion inserts a belt promotion record.
func (r *HistoryRepository) AppendBeltPromotion(ctx context.Context, rec progression.BeltPromotionRecord) error {
	query := `
		INSERT INTO belt_promotions (
			id, practitioner_id, sequence, from_belt, to_belt,
			promoted_at, promoted_by, origin, request_id, note
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.q.Exec(ctx, query,
		rec.ID,
		rec.PractitionerID,
		rec.Sequence,
		rec.FromBelt,
		rec.ToBelt,
		rec.PromotedAt,
		rec.PromotedBy,
		string(rec.Origin),
		nullableString(rec.RequestID),
		rec.Note,
	)
	return r.appendError(err, rec)
}

func (r *HistoryRepository) appendError(err error, rec progression.Record) error {
	if err == nil {
		return nil
	}
	if IsUniqueViolation(err) {
		return shared.WrapError("postgres", "AppendHistory", shared.ErrConcurrentModification,
			fmt.Sprintf("record %d already exists for %s", rec.Seq(), rec.Practitioner()), err)
	}
	if IsForeignKeyViolation(err) {
		return shared.ErrPractitionerNotFound.WithMessage(fmt.Sprintf("practitioner %s not found", rec.Practitioner()))
	}
	return fmt.Errorf("failed to append %s record: %w", rec.RecordKind(), err)
}

// ListByPractitioner returns both record kinds merged in sequence order.
func (r *HistoryRepository) ListByPractitioner(ctx context.Context, practitionerID string) ([]progression.Record, error) {
	query := `
		SELECT 'DEGREE' AS kind, id::text, sequence, belt_code, '' AS to_belt, degree,
		       granted_at AS at, granted_by AS actor, origin, COALESCE(request_id::text, ''), note
		FROM degree_grants
		WHERE practitioner_id = $1
		UNION ALL
		SELECT 'BELT', id::text, sequence, from_belt, to_belt, 0,
		       promoted_at, promoted_by, origin, COALESCE(request_id::text, ''), note
		FROM belt_promotions
		WHERE practitioner_id = $1
		ORDER BY sequence
	`

	rows, err := r.q.Query(ctx, query, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []progression.Record
	for rows.Next() {
		var (
			kind, id, belt, toBelt, actor, origin, requestID, note string
			seq                                                    int64
			degree                                                 int
			at                                                     time.Time
		)
		if err := rows.Scan(&kind, &id, &seq, &belt, &toBelt, &degree, &at, &actor, &origin, &requestID, &note); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		switch progression.Kind(kind) {
		case progression.KindDegree:
			out = append(out, progression.DegreeGrantRecord{
				ID: id, PractitionerID: practitionerID, Sequence: seq,
				BeltCode: belt, Degree: degree, GrantedAt: at, GrantedBy: actor,
				Origin: progression.Origin(origin), RequestID: requestID, Note: note,
			})
		default:
			out = append(out, progression.BeltPromotionRecord{
				ID: id, PractitionerID: practitionerID, Sequence: seq,
				FromBelt: belt, ToBelt: toBelt, PromotedAt: at, PromotedBy: actor,
				Origin: progression.Origin(origin), RequestID: requestID, Note: note,
			})
		}
	}
	return out, rows.Err()
}
