package medication

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/db"
)

type recordRepoPG struct {
	pool *pgxpool.Pool
}

func NewPGRepo(pool *pgxpool.Pool) Repository {
	return &recordRepoPG{pool: pool}
}

func (r *recordRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const recordCols = `id, med_id, name, dosage, frequency, patient_id, prescriber_id,
	patient_ref, prescribed_by, created_at, updated_at`

func (r *recordRepoPG) Create(ctx context.Context, rec *Record) error {
	patient, err := uuid.Parse(rec.PatientRef)
	if err != nil {
		return fmt.Errorf("invalid patient reference %q", rec.PatientRef)
	}
	prescriber, err := uuid.Parse(rec.PrescribedBy)
	if err != nil {
		return fmt.Errorf("invalid prescriber reference %q", rec.PrescribedBy)
	}

	id := uuid.New()
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medication_records (id, med_id, name, dosage, frequency, patient_id,
			prescriber_id, patient_ref, prescribed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		id, rec.MedID, rec.Name, rec.Dosage, rec.Frequency, rec.PatientID,
		rec.PrescriberID, patient, prescriber,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if db.UniqueViolation(err) == "medication_records_med_id_key" {
			return ErrDuplicateMedID
		}
		return fmt.Errorf("insert medication record: %w", err)
	}
	rec.ID = id.String()
	return nil
}

func (r *recordRepoPG) GetByID(ctx context.Context, id string) (*Record, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM medication_records WHERE id = $1`, uid))
}

func (r *recordRepoPG) List(ctx context.Context, f Filter) ([]*Record, error) {
	var (
		where []string
		args  []any
	)
	if f.PrescribedBy != "" {
		uid, err := uuid.Parse(f.PrescribedBy)
		if err != nil {
			return nil, nil
		}
		args = append(args, uid)
		where = append(where, fmt.Sprintf("prescribed_by = $%d", len(args)))
	}
	if f.PatientRef != "" {
		uid, err := uuid.Parse(f.PatientRef)
		if err != nil {
			return nil, nil
		}
		args = append(args, uid)
		where = append(where, fmt.Sprintf("patient_ref = $%d", len(args)))
	}

	sql := `SELECT ` + recordCols + ` FROM medication_records`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY med_id`

	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list medication records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate medication records: %w", err)
	}
	return out, nil
}

func (r *recordRepoPG) Update(ctx context.Context, rec *Record) error {
	uid, err := uuid.Parse(rec.ID)
	if err != nil {
		return ErrNotFound
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE medication_records SET name = $2, dosage = $3, frequency = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		uid, rec.Name, rec.Dosage, rec.Frequency,
	).Scan(&rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update medication record: %w", err)
	}
	return nil
}

func (r *recordRepoPG) Delete(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM medication_records WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete medication record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recordRepoPG) DeleteByPatient(ctx context.Context, patientRef string) (int, error) {
	uid, err := uuid.Parse(patientRef)
	if err != nil {
		return 0, nil
	}
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM medication_records WHERE patient_ref = $1`, uid)
	if err != nil {
		return 0, fmt.Errorf("delete medication records of patient: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *recordRepoPG) RenumberPatient(ctx context.Context, patientRef string, patientID int) (int, error) {
	uid, err := uuid.Parse(patientRef)
	if err != nil {
		return 0, nil
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_records SET patient_id = $2, updated_at = NOW()
		WHERE patient_ref = $1 AND patient_id <> $2`, uid, patientID)
	if err != nil {
		return 0, fmt.Errorf("renumber medication records of patient: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec        Record
		id         uuid.UUID
		patient    uuid.UUID
		prescriber uuid.UUID
	)
	err := row.Scan(&id, &rec.MedID, &rec.Name, &rec.Dosage, &rec.Frequency, &rec.PatientID,
		&rec.PrescriberID, &patient, &prescriber, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan medication record: %w", err)
	}
	rec.ID = id.String()
	rec.PatientRef = patient.String()
	rec.PrescribedBy = prescriber.String()
	return &rec, nil
}
