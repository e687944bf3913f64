package mongodb

import (
	"context"
	"errors"

	"github.com/nguyentranbao-ct/request-chat/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type IEntity interface {
	GetObjectID() models.ObjectID
}

type baseRepo[E IEntity] struct {
	coll *mongo.Collection
}

func newBaseRepo[E IEntity](db *DB, collection string) baseRepo[E] {
	return baseRepo[E]{
		coll: db.Collection(collection),
	}
}

func (r *baseRepo[E]) FindByID(ctx context.Context, id models.ObjectID) (*E, error) {
	if !id.IsValid() {
		return nil, models.ErrNotFound
	}
	var entity E
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&entity)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// UpdateByID applies update and returns the document as it is after the write.
func (r *baseRepo[E]) UpdateByID(ctx context.Context, id models.ObjectID, update bson.M) (*E, error) {
	if !id.IsValid() {
		return nil, models.ErrNotFound
	}
	opt := options.
		FindOneAndUpdate().
		SetReturnDocument(options.After)

	var updated E
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opt).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

var ErrStop = errors.New("stop")

func (r *baseRepo[E]) Iterate(ctx context.Context, filter bson.M, fn func(E) error, opts ...*options.FindOptions) error {
	cursor, err := r.coll.Find(ctx, filter, opts...)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var entity E
		if err := cursor.Decode(&entity); err != nil {
			return err
		}

		err := fn(entity)
		if errors.Is(err, ErrStop) {
			return nil
		}
		if err != nil {
			return err
		}
	}

	return cursor.Err()
}

func (r *baseRepo[E]) Watch(ctx context.Context, pipeline mongo.Pipeline) (*mongo.ChangeStream, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	return r.coll.Watch(ctx, pipeline, opts)
}
