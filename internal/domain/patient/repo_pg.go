package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/db"
)

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPGRepo(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, patient_id, doctor_ref, doctor_id, caregiver_ref, caregiver_id,
	name, age, diagnosis, symptoms, image, medications, created_at, updated_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	doctor, err := uuid.Parse(p.DoctorRef)
	if err != nil {
		return fmt.Errorf("invalid doctor reference %q", p.DoctorRef)
	}
	caregiver, err := optionalUUID(p.CaregiverRef)
	if err != nil {
		return err
	}
	meds, err := json.Marshal(nonNil(p.Medications))
	if err != nil {
		return fmt.Errorf("encode medications: %w", err)
	}

	id := uuid.New()
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, patient_id, doctor_ref, doctor_id, caregiver_ref, caregiver_id,
			name, age, diagnosis, symptoms, image, medications)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		id, p.PatientID, doctor, p.DoctorID, caregiver, p.CaregiverID,
		p.Name, p.Age, p.Diagnosis, p.Symptoms, p.Image, meds,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.UniqueViolation(err) == "patients_patient_id_key" {
			return ErrDuplicatePatientID
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	p.ID = id.String()
	p.Medications = nonNil(p.Medications)
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id string) (*Patient, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, uid))
}

func (r *patientRepoPG) GetByPatientID(ctx context.Context, patientID int) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE patient_id = $1`, patientID))
}

func (r *patientRepoPG) List(ctx context.Context, f Filter) ([]*Patient, error) {
	var (
		where []string
		args  []any
	)
	if len(f.IDs) > 0 {
		args = append(args, validUUIDs(f.IDs))
		where = append(where, fmt.Sprintf("id = ANY($%d::uuid[])", len(args)))
	}
	if f.DoctorRef != "" {
		if _, err := uuid.Parse(f.DoctorRef); err != nil {
			return nil, nil
		}
		args = append(args, f.DoctorRef)
		where = append(where, fmt.Sprintf("doctor_ref = $%d::uuid", len(args)))
	}
	if len(f.DoctorRefs) > 0 {
		args = append(args, validUUIDs(f.DoctorRefs))
		where = append(where, fmt.Sprintf("doctor_ref = ANY($%d::uuid[])", len(args)))
	}
	if f.CaregiverRef != "" {
		if _, err := uuid.Parse(f.CaregiverRef); err != nil {
			return nil, nil
		}
		args = append(args, f.CaregiverRef)
		where = append(where, fmt.Sprintf("caregiver_ref = $%d::uuid", len(args)))
	}

	sql := `SELECT ` + patientCols + ` FROM patients`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY patient_id`

	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patients: %w", err)
	}
	return out, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	uid, err := uuid.Parse(p.ID)
	if err != nil {
		return ErrNotFound
	}
	caregiver, err := optionalUUID(p.CaregiverRef)
	if err != nil {
		return err
	}
	meds, err := json.Marshal(nonNil(p.Medications))
	if err != nil {
		return fmt.Errorf("encode medications: %w", err)
	}

	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET patient_id = $2, caregiver_ref = $3, caregiver_id = $4, name = $5,
			age = $6, diagnosis = $7, symptoms = $8, image = $9, medications = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		uid, p.PatientID, caregiver, p.CaregiverID, p.Name,
		p.Age, p.Diagnosis, p.Symptoms, p.Image, meds,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if db.UniqueViolation(err) == "patients_patient_id_key" {
			return ErrDuplicatePatientID
		}
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) Delete(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) DeleteByDoctor(ctx context.Context, doctorRef string) (int, error) {
	uid, err := uuid.Parse(doctorRef)
	if err != nil {
		return 0, nil
	}
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE doctor_ref = $1`, uid)
	if err != nil {
		return 0, fmt.Errorf("delete patients of doctor: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *patientRepoPG) UnlinkCaregiver(ctx context.Context, caregiverRef string) (int, error) {
	uid, err := uuid.Parse(caregiverRef)
	if err != nil {
		return 0, nil
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET caregiver_ref = NULL, caregiver_id = NULL, updated_at = NOW()
		WHERE caregiver_ref = $1`, uid)
	if err != nil {
		return 0, fmt.Errorf("unlink caregiver: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p         Patient
		id        uuid.UUID
		doctor    uuid.UUID
		caregiver *uuid.UUID
		meds      []byte
	)
	err := row.Scan(&id, &p.PatientID, &doctor, &p.DoctorID, &caregiver, &p.CaregiverID,
		&p.Name, &p.Age, &p.Diagnosis, &p.Symptoms, &p.Image, &meds, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan patient: %w", err)
	}
	p.ID = id.String()
	p.DoctorRef = doctor.String()
	if caregiver != nil {
		p.CaregiverRef = caregiver.String()
	}
	if len(meds) > 0 {
		if err := json.Unmarshal(meds, &p.Medications); err != nil {
			return nil, fmt.Errorf("decode medications: %w", err)
		}
	}
	p.Medications = nonNil(p.Medications)
	return &p, nil
}

func validUUIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func optionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid reference %q", s)
	}
	return &id, nil
}
