// Package integration runs the repository contract against real stores.
//
// Postgres is used when TEST_DATABASE_URL is set, or when
// INTEGRATION_DOCKER=1 and a postgres:16-alpine container can be started.
// MongoDB is used when TEST_MONGODB_URI is set. Drivers without a store are
// skipped.
package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/clinicdesk/clinic/internal/domain/identity"
	"github.com/clinicdesk/clinic/internal/domain/medication"
	"github.com/clinicdesk/clinic/internal/domain/patient"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/migrations"
)

var (
	globalPool  *pgxpool.Pool
	globalMongo *mongo.Client
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	var cleanups []func()

	if pool, cleanup, err := setupPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres unavailable: %v\n", err)
	} else if pool != nil {
		globalPool = pool
		cleanups = append(cleanups, cleanup)
	}

	if uri := os.Getenv("TEST_MONGODB_URI"); uri != "" {
		client, _, err := db.NewMongo(ctx, uri, "admin")
		if err != nil {
			fmt.Fprintf(os.Stderr, "mongodb unavailable: %v\n", err)
		} else {
			globalMongo = client
			cleanups = append(cleanups, func() { _ = client.Disconnect(context.Background()) })
		}
	}

	code := m.Run()
	for _, c := range cleanups {
		c()
	}
	os.Exit(code)
}

func setupPostgres(ctx context.Context) (*pgxpool.Pool, func(), error) {
	connStr := os.Getenv("TEST_DATABASE_URL")
	stop := func() {}
	if connStr == "" {
		if os.Getenv("INTEGRATION_DOCKER") != "1" {
			return nil, nil, nil
		}
		var err error
		connStr, stop, err = startPostgresContainer(ctx)
		if err != nil {
			return nil, nil, err
		}
	}

	pool, err := db.NewPool(ctx, connStr, 10, 1)
	if err != nil {
		stop()
		return nil, nil, err
	}
	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		pool.Close()
		stop()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return pool, func() {
		pool.Close()
		stop()
	}, nil
}

// stack is one driver's repositories plus its transaction runner.
type stack struct {
	users    identity.Repository
	patients patient.Repository
	records  medication.Repository
	tx       identity.TxFunc
}

// forEachStore runs fn once per available driver on a clean store.
func forEachStore(t *testing.T, fn func(t *testing.T, s stack)) {
	t.Helper()
	ran := false

	if globalPool != nil {
		ran = true
		t.Run("postgres", func(t *testing.T) {
			ctx := context.Background()
			if _, err := globalPool.Exec(ctx, `TRUNCATE medication_records, patients, users CASCADE`); err != nil {
				t.Fatalf("truncate: %v", err)
			}
			fn(t, stack{
				users:    identity.NewPGRepo(globalPool),
				patients: patient.NewPGRepo(globalPool),
				records:  medication.NewPGRepo(globalPool),
				tx: func(ctx context.Context, f func(ctx context.Context) error) error {
					return db.RunInTx(ctx, globalPool, f)
				},
			})
		})
	}

	if globalMongo != nil {
		ran = true
		t.Run("mongo", func(t *testing.T) {
			ctx := context.Background()
			name := "clinic_test_" + strings.ReplaceAll(uuid.New().String()[:8], "-", "")
			database := globalMongo.Database(name)
			t.Cleanup(func() { _ = database.Drop(context.Background()) })
			if _, err := db.EnsureMongoIndexes(ctx, database); err != nil {
				t.Fatalf("indexes: %v", err)
			}
			fn(t, stack{
				users:    identity.NewMongoRepo(database),
				patients: patient.NewMongoRepo(database),
				records:  medication.NewMongoRepo(database),
			})
		})
	}

	if !ran {
		t.Skip("no store configured: set TEST_DATABASE_URL, INTEGRATION_DOCKER=1 or TEST_MONGODB_URI")
	}
}

func intPtr(v int) *int { return &v }

func createUser(t *testing.T, repo identity.Repository, email string, role auth.Role, customID *int) *identity.User {
	t.Helper()
	u := &identity.User{
		Name:         strings.Split(email, "@")[0],
		Email:        email,
		PasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderplaceho",
		Role:         role,
		CustomID:     customID,
	}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func createPatient(t *testing.T, repo patient.Repository, patientID int, doctor *identity.User, caregiver *identity.User) *patient.Patient {
	t.Helper()
	p := &patient.Patient{
		PatientID: patientID,
		DoctorRef: doctor.ID,
		DoctorID:  doctor.CustomID,
		Name:      fmt.Sprintf("Patient %d", patientID),
		Age:       40,
		Diagnosis: "Hypertension",
		Medications: []patient.MedicationEntry{
			{MedID: 102, Name: "Lisinopril", Dosage: "10 mg", Time: "08:00"},
		},
	}
	if caregiver != nil {
		p.CaregiverRef = caregiver.ID
		p.CaregiverID = caregiver.CustomID
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("create patient %d: %v", patientID, err)
	}
	return p
}

func createRecord(t *testing.T, repo medication.Repository, medID int, p *patient.Patient, doctor *identity.User) *medication.Record {
	t.Helper()
	r := &medication.Record{
		MedID:        medID,
		Name:         "Metformin",
		Dosage:       "500 mg",
		Frequency:    "Twice daily",
		PatientID:    p.PatientID,
		PrescriberID: *doctor.CustomID,
		PatientRef:   p.ID,
		PrescribedBy: doctor.ID,
	}
	if err := repo.Create(context.Background(), r); err != nil {
		t.Fatalf("create record %d: %v", medID, err)
	}
	return r
}

func newServices(s stack) (*identity.Service, *patient.Service, *medication.Service) {
	logger := zerolog.Nop()
	tokens := auth.NewTokenIssuer([]byte("integration-secret-integration-secret"), 0)
	ids := identity.NewService(s.users, tokens, nil, identity.Options{
		BcryptCost:    4,
		EmailSuffixes: identity.DefaultEmailSuffixes,
		ProtectAdmins: true,
	}, logger)
	pats := patient.NewService(s.patients, ids, logger)
	meds := medication.NewService(s.records, pats, ids, logger)
	ids.SetPatientLinks(pats)
	pats.SetRecordCascade(meds)
	ids.SetTx(s.tx)
	pats.SetTx(s.tx)
	return ids, pats, meds
}
