package patient

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

type patientDoc struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty"`
	PatientID   int                 `bson:"patientId"`
	Doctor      primitive.ObjectID  `bson:"doctor"`
	DoctorID    *int                `bson:"doctorId,omitempty"`
	Caregiver   *primitive.ObjectID `bson:"caregiver,omitempty"`
	CaregiverID *int                `bson:"caregiverId,omitempty"`
	Name        string              `bson:"name"`
	Age         int                 `bson:"age"`
	Diagnosis   string              `bson:"diagnosis"`
	Symptoms    string              `bson:"symptoms"`
	Image       string              `bson:"image"`
	Medications []MedicationEntry   `bson:"medications"`
	CreatedAt   time.Time           `bson:"createdAt"`
	UpdatedAt   time.Time           `bson:"updatedAt"`
}

func (d *patientDoc) toPatient() *Patient {
	p := &Patient{
		ID:          d.ID.Hex(),
		PatientID:   d.PatientID,
		DoctorRef:   d.Doctor.Hex(),
		DoctorID:    d.DoctorID,
		CaregiverID: d.CaregiverID,
		Name:        d.Name,
		Age:         d.Age,
		Diagnosis:   d.Diagnosis,
		Symptoms:    d.Symptoms,
		Image:       d.Image,
		Medications: d.Medications,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.Caregiver != nil {
		p.CaregiverRef = d.Caregiver.Hex()
	}
	if p.Medications == nil {
		p.Medications = []MedicationEntry{}
	}
	return p
}

type patientRepoMongo struct {
	coll *mongo.Collection
}

func NewMongoRepo(database *mongo.Database) Repository {
	return &patientRepoMongo{coll: database.Collection(db.PatientsCollection)}
}

func (r *patientRepoMongo) Create(ctx context.Context, p *Patient) error {
	doctor, err := primitive.ObjectIDFromHex(p.DoctorRef)
	if err != nil {
		return fmt.Errorf("invalid doctor reference %q", p.DoctorRef)
	}
	caregiver, err := optionalObjectID(p.CaregiverRef)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc := patientDoc{
		ID:          primitive.NewObjectID(),
		PatientID:   p.PatientID,
		Doctor:      doctor,
		DoctorID:    p.DoctorID,
		Caregiver:   caregiver,
		CaregiverID: p.CaregiverID,
		Name:        p.Name,
		Age:         p.Age,
		Diagnosis:   p.Diagnosis,
		Symptoms:    p.Symptoms,
		Image:       p.Image,
		Medications: nonNil(p.Medications),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if db.IsDuplicateKey(err) {
			return ErrDuplicatePatientID
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	p.ID = doc.ID.Hex()
	p.Medications = doc.Medications
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

func (r *patientRepoMongo) GetByID(ctx context.Context, id string) (*Patient, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *patientRepoMongo) GetByPatientID(ctx context.Context, patientID int) (*Patient, error) {
	return r.findOne(ctx, bson.M{"patientId": patientID})
}

func (r *patientRepoMongo) List(ctx context.Context, f Filter) ([]*Patient, error) {
	filter := bson.M{}
	if len(f.IDs) > 0 {
		oids := make([]primitive.ObjectID, 0, len(f.IDs))
		for _, id := range f.IDs {
			if oid, err := primitive.ObjectIDFromHex(id); err == nil {
				oids = append(oids, oid)
			}
		}
		filter["_id"] = bson.M{"$in": oids}
	}
	if f.DoctorRef != "" {
		oid, err := primitive.ObjectIDFromHex(f.DoctorRef)
		if err != nil {
			return nil, nil
		}
		filter["doctor"] = oid
	}
	if len(f.DoctorRefs) > 0 {
		oids := make([]primitive.ObjectID, 0, len(f.DoctorRefs))
		for _, ref := range f.DoctorRefs {
			if oid, err := primitive.ObjectIDFromHex(ref); err == nil {
				oids = append(oids, oid)
			}
		}
		filter["doctor"] = bson.M{"$in": oids}
	}
	if f.CaregiverRef != "" {
		oid, err := primitive.ObjectIDFromHex(f.CaregiverRef)
		if err != nil {
			return nil, nil
		}
		filter["caregiver"] = oid
	}

	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "patientId", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer cur.Close(ctx)

	var out []*Patient
	for cur.Next(ctx) {
		var doc patientDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode patient: %w", err)
		}
		out = append(out, doc.toPatient())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate patients: %w", err)
	}
	return out, nil
}

func (r *patientRepoMongo) Update(ctx context.Context, p *Patient) error {
	oid, err := primitive.ObjectIDFromHex(p.ID)
	if err != nil {
		return ErrNotFound
	}
	caregiver, err := optionalObjectID(p.CaregiverRef)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	set := bson.M{
		"patientId":   p.PatientID,
		"name":        p.Name,
		"age":         p.Age,
		"diagnosis":   p.Diagnosis,
		"symptoms":    p.Symptoms,
		"image":       p.Image,
		"medications": nonNil(p.Medications),
		"updatedAt":   now,
	}
	update := bson.M{"$set": set}
	if caregiver != nil {
		set["caregiver"] = caregiver
		set["caregiverId"] = p.CaregiverID
	} else {
		update["$unset"] = bson.M{"caregiver": "", "caregiverId": ""}
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		if db.IsDuplicateKey(err) {
			return ErrDuplicatePatientID
		}
		return fmt.Errorf("update patient: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	p.UpdatedAt = now
	return nil
}

func (r *patientRepoMongo) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoMongo) DeleteByDoctor(ctx context.Context, doctorRef string) (int, error) {
	oid, err := primitive.ObjectIDFromHex(doctorRef)
	if err != nil {
		return 0, nil
	}
	res, err := r.coll.DeleteMany(ctx, bson.M{"doctor": oid})
	if err != nil {
		return 0, fmt.Errorf("delete patients of doctor: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (r *patientRepoMongo) UnlinkCaregiver(ctx context.Context, caregiverRef string) (int, error) {
	oid, err := primitive.ObjectIDFromHex(caregiverRef)
	if err != nil {
		return 0, nil
	}
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"caregiver": oid},
		bson.M{
			"$unset": bson.M{"caregiver": "", "caregiverId": ""},
			"$set":   bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("unlink caregiver: %w", err)
	}
	return int(res.ModifiedCount), nil
}

func (r *patientRepoMongo) findOne(ctx context.Context, filter bson.M) (*Patient, error) {
	var doc patientDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find patient: %w", err)
	}
	return doc.toPatient(), nil
}

func optionalObjectID(hex string) (*primitive.ObjectID, error) {
	if hex == "" {
		return nil, nil
	}
	oid, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return nil, fmt.Errorf("invalid reference %q", hex)
	}
	return &oid, nil
}

func nonNil(m []MedicationEntry) []MedicationEntry {
	if m == nil {
		return []MedicationEntry{}
	}
	return m
}
