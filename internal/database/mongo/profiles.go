package mongo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/identity"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// sampleNamespace derives stable sample ids for documents that only store
// bare descriptor arrays.
var sampleNamespace = uuid.MustParse("5b0c56c4-2d1e-4f0e-9a53-3f7cf1e6d0a1")

// faceDocument is one document of the faces collection.
type faceDocument struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	Name         string             `bson:"name" json:"name"`
	RegisteredAt string             `bson:"registeredAt" json:"registeredAt"`
	Descriptors  [][]float64        `bson:"descriptors" json:"descriptors"`
}

func sampleID(name string, position int) uuid.UUID {
	return uuid.NewSHA1(sampleNamespace, []byte(name+"#"+strconv.Itoa(position)))
}

func toFaceDocument(p identity.Profile) faceDocument {
	doc := faceDocument{
		Name:         p.Identity,
		RegisteredAt: p.EnrolledAt.UTC().Format(time.RFC3339Nano),
		Descriptors:  make([][]float64, len(p.Samples)),
	}
	for i, s := range p.Samples {
		d := make([]float64, len(s.Descriptor))
		for j, v := range s.Descriptor {
			d[j] = float64(v)
		}
		doc.Descriptors[i] = d
	}
	return doc
}

func (d faceDocument) profile() identity.Profile {
	p := identity.Profile{Identity: d.Name}
	if t, err := time.Parse(time.RFC3339Nano, d.RegisteredAt); err == nil {
		p.EnrolledAt = t
	}
	p.Samples = make([]identity.Sample, len(d.Descriptors))
	for i, raw := range d.Descriptors {
		desc := make(identity.Descriptor, len(raw))
		for j, v := range raw {
			desc[j] = float32(v)
		}
		p.Samples[i] = identity.Sample{
			ID:         sampleID(d.Name, i),
			Descriptor: desc,
			CapturedAt: p.EnrolledAt,
		}
	}
	return p
}

// ProfileRepository is the identity.Store over the faces collection.
type ProfileRepository struct {
	coll *mongo.Collection
}

// NewProfileRepository creates a profile repository on c.
func NewProfileRepository(c *Client) *ProfileRepository {
	return &ProfileRepository{coll: c.db.Collection(facesCollection)}
}

// UpsertProfile sets the document matching name, inserting it when missing.
func (r *ProfileRepository) UpsertProfile(ctx context.Context, p identity.Profile) error {
	doc := toFaceDocument(p)
	filter := bson.D{{Key: "name", Value: doc.Name}}
	update := bson.D{{Key: "$set", Value: doc}}

	if _, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.Identity, err)
	}
	return nil
}

// LoadProfiles returns every stored profile in insertion order.
func (r *ProfileRepository) LoadProfiles(ctx context.Context) ([]identity.Profile, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer cur.Close(ctx)

	var profiles []identity.Profile
	for cur.Next(ctx) {
		var doc faceDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		profiles = append(profiles, doc.profile())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return profiles, nil
}
