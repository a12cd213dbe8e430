package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names shared by the Mongo repositories.
const (
	UsersCollection       = "users"
	PatientsCollection    = "patients"
	MedicationsCollection = "medications"
)

const mongoConnectTimeout = 10 * time.Second

// NewMongo connects to uri, verifies the primary is reachable and returns the
// client together with the named database.
func NewMongo(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, client.Database(database), nil
}

// MongoIndexes are the unique constraints the domain relies on.
func MongoIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		UsersCollection: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_email"),
			},
			{
				// Admins carry no custom ID, so uniqueness applies only where
				// the field is present.
				Keys: bson.D{{Key: "role", Value: 1}, {Key: "customId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_role_custom_id").
					SetPartialFilterExpression(bson.M{"customId": bson.M{"$exists": true}}),
			},
		},
		PatientsCollection: {
			{
				Keys:    bson.D{{Key: "patientId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_patient_id"),
			},
			{Keys: bson.D{{Key: "doctor", Value: 1}}, Options: options.Index().SetName("by_doctor")},
			{Keys: bson.D{{Key: "caregiver", Value: 1}}, Options: options.Index().SetName("by_caregiver")},
		},
		MedicationsCollection: {
			{
				Keys:    bson.D{{Key: "medId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_med_id"),
			},
			{Keys: bson.D{{Key: "patient", Value: 1}}, Options: options.Index().SetName("by_patient")},
		},
	}
}

// EnsureMongoIndexes creates every index in MongoIndexes. It is idempotent.
func EnsureMongoIndexes(ctx context.Context, database *mongo.Database) (int, error) {
	created := 0
	for coll, models := range MongoIndexes() {
		names, err := database.Collection(coll).Indexes().CreateMany(ctx, models)
		if err != nil {
			return created, fmt.Errorf("create indexes on %s: %w", coll, err)
		}
		created += len(names)
	}
	return created, nil
}

// IsDuplicateKey reports whether err is a Mongo unique index violation.
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}
