package repository

import (
	"bytes"
	"context"
	"time"

	"trackus_chat/internal/chat/domain"
	"trackus_chat/pkg/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// DefaultPollInterval re-query period when change streams are not available
const DefaultPollInterval = 2 * time.Second

type snapshotQuery func(ctx context.Context) ([]domain.RawDocument, error)

// watchSnapshots 先送出一次完整結果，之後每次 collection 變動重新查詢並送出完整結果。
// A standalone server has no change streams; then the query is polled and only
// changed results are delivered. handler runs on one goroutine, never concurrently.
func watchSnapshots(
	ctx context.Context,
	coll *mongo.Collection,
	pipeline mongo.Pipeline,
	query snapshotQuery,
	poll time.Duration,
	handler func([]domain.RawDocument),
) error {
	initial, err := query(ctx)
	if err != nil {
		return err
	}

	stream, err := coll.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		logger.Log.Warn("change stream unavailable, polling", zap.String("collection", coll.Name()), zap.Error(err))
		stream = nil
	}

	go func() {
		handler(initial)
		last := initial

		if stream != nil {
			defer stream.Close(context.Background())
			for stream.Next(ctx) {
				docs, err := query(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Log.Error("snapshot query failed", zap.String("collection", coll.Name()), zap.Error(err))
					continue
				}
				last = docs
				handler(docs)
			}
			if ctx.Err() != nil {
				return
			}
			logger.Log.Warn("change stream closed, polling", zap.String("collection", coll.Name()), zap.Error(stream.Err()))
		}

		pollSnapshots(ctx, coll.Name(), query, poll, last, handler)
	}()
	return nil
}

func pollSnapshots(ctx context.Context, name string, query snapshotQuery, poll time.Duration, last []domain.RawDocument, handler func([]domain.RawDocument)) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			docs, err := query(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Log.Error("snapshot poll failed", zap.String("collection", name), zap.Error(err))
				continue
			}
			if sameSnapshot(last, docs) {
				continue
			}
			last = docs
			handler(docs)
		}
	}
}

func sameSnapshot(a, b []domain.RawDocument) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// collect copies every document of the cursor; cur.Current is reused between Next calls
func collect(ctx context.Context, cur *mongo.Cursor) ([]domain.RawDocument, error) {
	defer cur.Close(ctx)

	docs := []domain.RawDocument{}
	for cur.Next(ctx) {
		docs = append(docs, append(domain.RawDocument(nil), cur.Current...))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
