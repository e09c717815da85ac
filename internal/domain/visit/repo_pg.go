package visit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klinik/klinik/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const visitCols = `id, patient_id, visit_type, status, arrival_time, start_time, end_time,
	disposition, is_locked, lock_source, locked_by, locked_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	v.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO visit (id, patient_id, visit_type, status, arrival_time)
		VALUES ($1,$2,$3,$4,$5)`,
		v.ID, v.PatientID, v.Type, v.Status, v.ArrivalTime,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM visit WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visit`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visit ORDER BY arrival_time DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectVisits(rows, total)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM visit WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visit WHERE patient_id = $1 ORDER BY arrival_time DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectVisits(rows, total)
}

func (r *repoPG) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM visit WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visit WHERE status = $1 ORDER BY arrival_time LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectVisits(rows, total)
}

// UpdateStatus re-asserts the expected prior status in the WHERE clause so a
// concurrent transition cannot be silently overwritten.
func (r *repoPG) UpdateStatus(ctx context.Context, v *Visit, expected Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE visit SET status=$3, start_time=$4, end_time=$5, updated_at=NOW()
		WHERE id = $1 AND status = $2`,
		v.ID, expected, v.Status, v.StartTime, v.EndTime,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *repoPG) SetDisposition(ctx context.Context, id uuid.UUID, disposition string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE visit SET disposition=$2, updated_at=NOW()
		WHERE id = $1 AND is_locked = FALSE`,
		id, disposition,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *repoPG) Lock(ctx context.Context, id uuid.UUID, source, actorID string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE visit SET is_locked=TRUE, lock_source=$2, locked_by=$3, locked_at=NOW(), updated_at=NOW()
		WHERE id = $1 AND is_locked = FALSE`,
		id, source, actorID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *repoPG) Unlock(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE visit SET is_locked=FALSE, lock_source=NULL, locked_by=NULL, locked_at=NULL, updated_at=NOW()
		WHERE id = $1 AND is_locked = TRUE`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *repoPG) AddStatusHistory(ctx context.Context, h *StatusHistory) error {
	h.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO visit_status_history (id, visit_id, from_status, to_status, actor_id, changed_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		h.ID, h.VisitID, h.From, h.To, h.ActorID, h.ChangedAt,
	)
	return err
}

func (r *repoPG) GetStatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusHistory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, from_status, to_status, actor_id, changed_at
		FROM visit_status_history WHERE visit_id = $1 ORDER BY changed_at`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*StatusHistory
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.VisitID, &h.From, &h.To, &h.ActorID, &h.ChangedAt); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

func (r *repoPG) AddUnlockAudit(ctx context.Context, a *UnlockAudit) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO visit_unlock_audit (id, visit_id, actor_id, reason, unlocked_at)
		VALUES ($1,$2,$3,$4,$5)`,
		a.ID, a.VisitID, a.ActorID, a.Reason, a.UnlockedAt,
	)
	return err
}

func (r *repoPG) GetUnlockAudits(ctx context.Context, visitID uuid.UUID) ([]*UnlockAudit, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, actor_id, reason, unlocked_at
		FROM visit_unlock_audit WHERE visit_id = $1 ORDER BY unlocked_at`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []*UnlockAudit
	for rows.Next() {
		var a UnlockAudit
		if err := rows.Scan(&a.ID, &a.VisitID, &a.ActorID, &a.Reason, &a.UnlockedAt); err != nil {
			return nil, err
		}
		audits = append(audits, &a)
	}
	return audits, rows.Err()
}

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(
		&v.ID, &v.PatientID, &v.Type, &v.Status, &v.ArrivalTime, &v.StartTime, &v.EndTime,
		&v.Disposition, &v.IsLocked, &v.LockSource, &v.LockedBy, &v.LockedAt,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func collectVisits(rows pgx.Rows, total int) ([]*Visit, int, error) {
	var visits []*Visit
	for rows.Next() {
		var v Visit
		err := rows.Scan(
			&v.ID, &v.PatientID, &v.Type, &v.Status, &v.ArrivalTime, &v.StartTime, &v.EndTime,
			&v.Disposition, &v.IsLocked, &v.LockSource, &v.LockedBy, &v.LockedAt,
			&v.CreatedAt, &v.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		visits = append(visits, &v)
	}
	return visits, total, rows.Err()
}
