package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// recordDocument is one document of the records collection. Times of day are
// "HH:MM" strings and breakStart an ISO-8601 instant, both null when unset.
type recordDocument struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	Date              string             `bson:"date" json:"date"`
	UserName          string             `bson:"userName" json:"userName"`
	CheckIn           *string            `bson:"checkIn" json:"checkIn"`
	CheckOut          *string            `bson:"checkOut" json:"checkOut"`
	TotalBreakMinutes int                `bson:"totalBreakMinutes" json:"totalBreakMinutes"`
	BreakStart        *string            `bson:"breakStart" json:"breakStart"`
}

func toRecordDocument(rec attendance.Record) recordDocument {
	doc := recordDocument{
		Date:              rec.Date,
		UserName:          rec.Identity,
		TotalBreakMinutes: rec.TotalBreakMinutes,
	}
	if rec.CheckIn != nil {
		s := rec.CheckIn.String()
		doc.CheckIn = &s
	}
	if rec.CheckOut != nil {
		s := rec.CheckOut.String()
		doc.CheckOut = &s
	}
	if rec.BreakStart != nil {
		s := rec.BreakStart.UTC().Format(time.RFC3339Nano)
		doc.BreakStart = &s
	}
	return doc
}

func (d recordDocument) record() (attendance.Record, error) {
	rec := attendance.Record{
		Date:              d.Date,
		Identity:          d.UserName,
		TotalBreakMinutes: d.TotalBreakMinutes,
	}
	for _, f := range []struct {
		src *string
		dst **attendance.TimeOfDay
	}{{d.CheckIn, &rec.CheckIn}, {d.CheckOut, &rec.CheckOut}} {
		if f.src == nil || *f.src == "" {
			continue
		}
		t, err := attendance.ParseTimeOfDay(*f.src)
		if err != nil {
			return rec, fmt.Errorf("record %s: %w", rec.Key(), err)
		}
		*f.dst = &t
	}
	if d.BreakStart != nil && *d.BreakStart != "" {
		t, err := time.Parse(time.RFC3339Nano, *d.BreakStart)
		if err != nil {
			return rec, fmt.Errorf("record %s break start: %w", rec.Key(), err)
		}
		rec.BreakStart = &t
	}
	return rec, nil
}

// RecordRepository is the attendance.Store over the records collection.
type RecordRepository struct {
	coll *mongo.Collection
}

// NewRecordRepository creates a record repository on c.
func NewRecordRepository(c *Client) *RecordRepository {
	return &RecordRepository{coll: c.db.Collection(recordsCollection)}
}

// UpsertRecord sets every field of the document matching (date, userName),
// inserting it when missing.
func (r *RecordRepository) UpsertRecord(ctx context.Context, rec attendance.Record) error {
	doc := toRecordDocument(rec)
	filter := bson.D{{Key: "date", Value: doc.Date}, {Key: "userName", Value: doc.UserName}}
	update := bson.D{{Key: "$set", Value: doc}}

	if _, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("upsert attendance record %s: %w", rec.Key(), err)
	}
	return nil
}

// LoadRecords returns all records newest date first, most recently inserted
// first within a date.
func (r *RecordRepository) LoadRecords(ctx context.Context) ([]attendance.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("query attendance records: %w", err)
	}
	defer cur.Close(ctx)

	var records []attendance.Record
	for cur.Next(ctx) {
		var doc recordDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode attendance record: %w", err)
		}
		rec, err := doc.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance records: %w", err)
	}
	return records, nil
}
