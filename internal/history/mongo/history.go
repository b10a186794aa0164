package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

var ErrInvalidRecord = errors.New("history record needs a title")

type historyDoc struct {
	ID           string `bson:"_id"`
	Title        string `bson:"title"`
	Poster       string `bson:"poster,omitempty"`
	SiteKey      string `bson:"siteKey,omitempty"`
	SiteName     string `bson:"siteName,omitempty"`
	SpiderAPI    string `bson:"spiderApi,omitempty"`
	VideoID      string `bson:"videoId,omitempty"`
	PlayFlag     string `bson:"playFlag,omitempty"`
	EpisodeIndex int    `bson:"episodeIndex"`
	EpisodeName  string `bson:"episodeName,omitempty"`
	UpdatedAt    int64  `bson:"updatedAt"`
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// HistoryRepository keeps one play history entry per content key.
type HistoryRepository struct {
	collection *mongo.Collection
}

func NewHistoryRepository(client *mongo.Client, dbName string) *HistoryRepository {
	return &HistoryRepository{collection: client.Database(dbName).Collection("play_history")}
}

func (r *HistoryRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updatedAt", Value: -1}},
	})
	return err
}

// Upsert records a play. Blank fields keep whatever the entry already had,
// so a bare title update does not erase the last known source.
func (r *HistoryRepository) Upsert(ctx context.Context, record domain.HistoryRecord) error {
	id, update, err := buildUpdate(record, time.Now())
	if err != nil {
		return err
	}
	_, err = r.collection.UpdateOne(
		ctx,
		bson.M{"_id": id},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}

func buildUpdate(record domain.HistoryRecord, now time.Time) (string, bson.M, error) {
	title := strings.TrimSpace(record.Title)
	if title == "" {
		return "", nil, ErrInvalidRecord
	}
	id := strings.TrimSpace(record.ContentKey)
	if id == "" {
		id = title
	}
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	set := bson.M{
		"title":        title,
		"episodeIndex": max(record.EpisodeIndex, 0),
		"updatedAt":    updatedAt.Unix(),
	}
	optional := map[string]string{
		"poster":      record.Poster,
		"siteKey":     record.SiteKey,
		"siteName":    record.SiteName,
		"spiderApi":   record.SpiderAPI,
		"videoId":     record.VideoID,
		"playFlag":    record.PlayFlag,
		"episodeName": record.EpisodeName,
	}
	for field, value := range optional {
		if value = strings.TrimSpace(value); value != "" {
			set[field] = value
		}
	}
	return id, bson.M{"$set": set}, nil
}

func (r *HistoryRepository) Get(ctx context.Context, contentKey string) (domain.HistoryRecord, error) {
	var doc historyDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": strings.TrimSpace(contentKey)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.HistoryRecord{}, domain.ErrNotFound
		}
		return domain.HistoryRecord{}, err
	}
	return docToRecord(doc), nil
}

// ListRecent returns the most recently played entries first.
func (r *HistoryRepository) ListRecent(ctx context.Context, limit int) ([]domain.HistoryRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []historyDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	records := make([]domain.HistoryRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, docToRecord(doc))
	}
	return records, nil
}

func docToRecord(doc historyDoc) domain.HistoryRecord {
	return domain.HistoryRecord{
		ContentKey:   doc.ID,
		Title:        doc.Title,
		Poster:       doc.Poster,
		SiteKey:      doc.SiteKey,
		SiteName:     doc.SiteName,
		SpiderAPI:    doc.SpiderAPI,
		VideoID:      doc.VideoID,
		PlayFlag:     doc.PlayFlag,
		EpisodeIndex: doc.EpisodeIndex,
		EpisodeName:  doc.EpisodeName,
		UpdatedAt:    time.Unix(doc.UpdatedAt, 0).UTC(),
	}
}
