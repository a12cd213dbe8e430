package medication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/clinicdesk/clinic/internal/platform/db"
)

type recordDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	MedID        int                `bson:"medId"`
	Name         string             `bson:"name"`
	Dosage       string             `bson:"dosage"`
	Frequency    string             `bson:"frequency"`
	PatientID    int                `bson:"patientId"`
	PrescriberID int                `bson:"prescriberId"`
	Patient      primitive.ObjectID `bson:"patient"`
	PrescribedBy primitive.ObjectID `bson:"prescribedBy"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

func (d *recordDoc) toRecord() *Record {
	return &Record{
		ID:           d.ID.Hex(),
		MedID:        d.MedID,
		Name:         d.Name,
		Dosage:       d.Dosage,
		Frequency:    d.Frequency,
		PatientID:    d.PatientID,
		PrescriberID: d.PrescriberID,
		PatientRef:   d.Patient.Hex(),
		PrescribedBy: d.PrescribedBy.Hex(),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

type recordRepoMongo struct {
	coll *mongo.Collection
}

func NewMongoRepo(database *mongo.Database) Repository {
	return &recordRepoMongo{coll: database.Collection(db.MedicationsCollection)}
}

func (r *recordRepoMongo) Create(ctx context.Context, rec *Record) error {
	patient, err := primitive.ObjectIDFromHex(rec.PatientRef)
	if err != nil {
		return fmt.Errorf("invalid patient reference %q", rec.PatientRef)
	}
	prescriber, err := primitive.ObjectIDFromHex(rec.PrescribedBy)
	if err != nil {
		return fmt.Errorf("invalid prescriber reference %q", rec.PrescribedBy)
	}

	now := time.Now().UTC()
	doc := recordDoc{
		ID:           primitive.NewObjectID(),
		MedID:        rec.MedID,
		Name:         rec.Name,
		Dosage:       rec.Dosage,
		Frequency:    rec.Frequency,
		PatientID:    rec.PatientID,
		PrescriberID: rec.PrescriberID,
		Patient:      patient,
		PrescribedBy: prescriber,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if db.IsDuplicateKey(err) {
			return ErrDuplicateMedID
		}
		return fmt.Errorf("insert medication record: %w", err)
	}
	rec.ID = doc.ID.Hex()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

func (r *recordRepoMongo) GetByID(ctx context.Context, id string) (*Record, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var doc recordDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find medication record: %w", err)
	}
	return doc.toRecord(), nil
}

func (r *recordRepoMongo) List(ctx context.Context, f Filter) ([]*Record, error) {
	filter := bson.M{}
	if f.PrescribedBy != "" {
		oid, err := primitive.ObjectIDFromHex(f.PrescribedBy)
		if err != nil {
			return nil, nil
		}
		filter["prescribedBy"] = oid
	}
	if f.PatientRef != "" {
		oid, err := primitive.ObjectIDFromHex(f.PatientRef)
		if err != nil {
			return nil, nil
		}
		filter["patient"] = oid
	}

	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "medId", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list medication records: %w", err)
	}
	defer cur.Close(ctx)

	var out []*Record
	for cur.Next(ctx) {
		var doc recordDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode medication record: %w", err)
		}
		out = append(out, doc.toRecord())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate medication records: %w", err)
	}
	return out, nil
}

func (r *recordRepoMongo) Update(ctx context.Context, rec *Record) error {
	oid, err := primitive.ObjectIDFromHex(rec.ID)
	if err != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{
			"name":      rec.Name,
			"dosage":    rec.Dosage,
			"frequency": rec.Frequency,
			"updatedAt": now,
		}},
	)
	if err != nil {
		return fmt.Errorf("update medication record: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	rec.UpdatedAt = now
	return nil
}

func (r *recordRepoMongo) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete medication record: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recordRepoMongo) DeleteByPatient(ctx context.Context, patientRef string) (int, error) {
	oid, err := primitive.ObjectIDFromHex(patientRef)
	if err != nil {
		return 0, nil
	}
	res, err := r.coll.DeleteMany(ctx, bson.M{"patient": oid})
	if err != nil {
		return 0, fmt.Errorf("delete medication records of patient: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (r *recordRepoMongo) RenumberPatient(ctx context.Context, patientRef string, patientID int) (int, error) {
	oid, err := primitive.ObjectIDFromHex(patientRef)
	if err != nil {
		return 0, nil
	}
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"patient": oid, "patientId": bson.M{"$ne": patientID}},
		bson.M{"$set": bson.M{"patientId": patientID, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return 0, fmt.Errorf("renumber medication records of patient: %w", err)
	}
	return int(res.ModifiedCount), nil
}
