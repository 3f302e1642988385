package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"moviestream/internal/domain"
	"moviestream/internal/domain/ports"
)

// CacheRepository stores one document per finalized artifact, keyed by
// content hash.
type CacheRepository struct {
	collection *mongo.Collection
}

type cacheEntryDoc struct {
	ID          string `bson:"_id"`
	MovieID     int64  `bson:"movieId"`
	Format      string `bson:"format"`
	Size        int64  `bson:"size"`
	LastWatched int64  `bson:"lastWatched"`
}

var _ ports.CacheRepository = (*CacheRepository)(nil)

func NewCacheRepository(client *mongo.Client, dbName, collectionName string) *CacheRepository {
	return &CacheRepository{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *CacheRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "lastWatched", Value: 1}}},
		{Keys: bson.D{{Key: "movieId", Value: 1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *CacheRepository) Upsert(ctx context.Context, entry domain.CacheEntry) error {
	doc := toDoc(entry)
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$set": bson.M{
			"movieId":     doc.MovieID,
			"format":      doc.Format,
			"size":        doc.Size,
			"lastWatched": doc.LastWatched,
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *CacheRepository) Get(ctx context.Context, hash domain.ContentHash) (domain.CacheEntry, error) {
	var doc cacheEntryDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": string(hash)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.CacheEntry{}, domain.ErrNotFound
		}
		return domain.CacheEntry{}, err
	}
	return fromDoc(doc), nil
}

func (r *CacheRepository) Touch(ctx context.Context, hash domain.ContentHash, at time.Time) error {
	res, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": string(hash)},
		bson.M{"$max": bson.M{"lastWatched": at.UTC().Unix()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListStale returns the hashes of entries last watched before cutoff.
func (r *CacheRepository) ListStale(ctx context.Context, cutoff time.Time) ([]domain.ContentHash, error) {
	cursor, err := r.collection.Find(
		ctx,
		bson.M{"lastWatched": bson.M{"$lt": cutoff.UTC().Unix()}},
		options.Find().
			SetProjection(bson.M{"_id": 1}).
			SetSort(bson.D{{Key: "lastWatched", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var hashes []domain.ContentHash
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		hashes = append(hashes, domain.ContentHash(doc.ID))
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return hashes, nil
}

// Delete removes the entry for hash. Deleting a missing entry is not an
// error.
func (r *CacheRepository) Delete(ctx context.Context, hash domain.ContentHash) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": string(hash)})
	return err
}

// DeleteIfUnchanged deletes the entry only when lastWatched, format and size
// still hold the values in entry. A concurrent Upsert or Touch wins.
func (r *CacheRepository) DeleteIfUnchanged(ctx context.Context, entry domain.CacheEntry) (bool, error) {
	doc := toDoc(entry)
	res, err := r.collection.DeleteOne(ctx, bson.M{
		"_id":         doc.ID,
		"lastWatched": doc.LastWatched,
		"format":      doc.Format,
		"size":        doc.Size,
	})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func toDoc(e domain.CacheEntry) cacheEntryDoc {
	var lastWatched int64
	if !e.LastWatched.IsZero() {
		lastWatched = e.LastWatched.UTC().Unix()
	}
	return cacheEntryDoc{
		ID:          string(e.Hash),
		MovieID:     int64(e.MovieID),
		Format:      string(e.Format),
		Size:        e.Size,
		LastWatched: lastWatched,
	}
}

func fromDoc(doc cacheEntryDoc) domain.CacheEntry {
	entry := domain.CacheEntry{
		Hash:    domain.ContentHash(doc.ID),
		MovieID: domain.MovieID(doc.MovieID),
		Format:  domain.MediaFormat(doc.Format),
		Size:    doc.Size,
	}
	if doc.LastWatched > 0 {
		entry.LastWatched = time.Unix(doc.LastWatched, 0).UTC()
	}
	return entry
}
