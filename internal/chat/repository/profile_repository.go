package repository

import (
	"context"
	"errors"
	"time"

	"trackus_chat/internal/chat/domain"
	"trackus_chat/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// ProfileRepository definition member profile store
type ProfileRepository interface {
	// WatchProfile delivers the profile of uid, now and after each change, until ctx is done.
	// A missing document is delivered with Found false.
	WatchProfile(ctx context.Context, uid string, handler func(domain.ProfileEvent)) error
}

type profileRepository struct {
	coll *mongo.Collection
	poll time.Duration
}

// NewMongoProfileRepository create a ProfileRepository on the users collection
func NewMongoProfileRepository(db *mongo.Database, poll time.Duration) ProfileRepository {
	return &profileRepository{
		coll: db.Collection(string(domain.UserCollection)),
		poll: poll,
	}
}

// WatchProfile 訂閱成員資料
func (r *profileRepository) WatchProfile(ctx context.Context, uid string, handler func(domain.ProfileEvent)) error {
	query := func(ctx context.Context) ([]domain.RawDocument, error) {
		raw, err := r.coll.FindOne(ctx, bson.M{"_id": uid}).Raw()
		if errors.Is(err, mongo.ErrNoDocuments) {
			return []domain.RawDocument{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []domain.RawDocument{append(domain.RawDocument(nil), raw...)}, nil
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"documentKey._id": uid}}},
	}
	return watchSnapshots(ctx, r.coll, pipeline, query, r.poll, func(docs []domain.RawDocument) {
		if event, ok := DecodeProfile(uid, docs); ok {
			handler(event)
		}
	})
}

// DecodeProfile turns a profile snapshot into an event; a malformed document is logged and skipped
func DecodeProfile(uid string, docs []domain.RawDocument) (domain.ProfileEvent, bool) {
	if len(docs) == 0 {
		return domain.ProfileEvent{UID: uid, Found: false}, true
	}
	var doc domain.UserDocument
	if err := docs[0].Decode(&doc); err != nil {
		logger.Log.Warn("profile decode failed", zap.String("uid", uid), zap.Error(err))
		return domain.ProfileEvent{}, false
	}
	return domain.ProfileEvent{UID: uid, Member: doc.ToMember(), Found: true}, true
}
