package mongodb

import (
	"testing"

	"github.com/nguyentranbao-ct/request-chat/internal/models"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestToChangeEvent(t *testing.T) {
	t.Parallel()

	id := models.NewObjectID()
	rec := &models.RequestRecord{ID: id}

	tests := []struct {
		name     string
		op       string
		full     *models.RequestRecord
		wantType models.ChangeType
		wantOK   bool
	}{
		{"insert", "insert", rec, models.ChangeAdded, true},
		{"update", "update", rec, models.ChangeModified, true},
		{"replace", "replace", rec, models.ChangeModified, true},
		{"update after delete", "update", nil, models.ChangeModified, false},
		{"delete", "delete", nil, models.ChangeRemoved, true},
		{"drop", "drop", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := changeStreamDoc{OperationType: tt.op, FullDocument: tt.full}
			doc.DocumentKey.ID = id

			ev, ok := toChangeEvent(models.CategorySupport, doc)
			assert.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantType, ev.Type)
			assert.Equal(t, id, ev.RequestID)
			assert.Equal(t, models.CategorySupport, ev.Category)
			assert.Equal(t, tt.full, ev.Record)
		})
	}
}

func TestSnapshotFilter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, bson.M{}, snapshotFilter(models.RecordFilter{}))
	assert.Equal(t,
		bson.M{"_id": models.ObjectID("a"), "requester.user_id": "u1"},
		snapshotFilter(models.RecordFilter{RequestID: "a", RequesterUserID: "u1"}),
	)
}

func TestChangeStreamPipeline(t *testing.T) {
	t.Parallel()

	t.Run("unscoped", func(t *testing.T) {
		p := changeStreamPipeline(models.RecordFilter{})
		match := p[0][0].Value.(bson.D)
		assert.Len(t, match, 1)
		assert.Equal(t, "operationType", match[0].Key)
	})

	t.Run("requester scoped keeps deletes", func(t *testing.T) {
		p := changeStreamPipeline(models.RecordFilter{RequesterUserID: "u1"})
		match := p[0][0].Value.(bson.D)
		assert.Len(t, match, 2)
		assert.Equal(t, "$or", match[1].Key)
		assert.Contains(t, match[1].Value, bson.M{"operationType": "delete"})
		assert.Contains(t, match[1].Value, bson.M{"fullDocument.requester.user_id": "u1"})
	})

	t.Run("single record", func(t *testing.T) {
		p := changeStreamPipeline(models.RecordFilter{RequestID: "a"})
		match := p[0][0].Value.(bson.D)
		assert.Equal(t, bson.E{Key: "documentKey._id", Value: models.ObjectID("a")}, match[1])
	})
}
