package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shopassist-ai/engine/engine/domain"
)

const (
	postsCollection    = "posts"
	profilesCollection = "profiles"
)

// Mongo is the document-store implementation of Store.
type Mongo struct {
	posts    *mongo.Collection
	profiles *mongo.Collection
}

// NewMongo connects to MongoDB and prepares the collections. The unique
// (username, post_id) index backs the upsert-in-place invariant.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("store: connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, nil, fmt.Errorf("store: ping mongo: %w", err)
	}

	db := client.Database(database)
	m := &Mongo{
		posts:    db.Collection(postsCollection),
		profiles: db.Collection(profilesCollection),
	}

	_, err = m.posts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}, {Key: "post_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("store: ensure post index: %w", err)
	}
	return m, client, nil
}

func postKey(username, postID string) bson.M {
	return bson.M{"username": username, "post_id": postID}
}

func (m *Mongo) UpsertPost(ctx context.Context, p domain.Post) error {
	if err := domain.ValidatePost(p); err != nil {
		return err
	}
	// Only the scrape-owned fields are $set; ai_analysis is left untouched
	// so a re-scrape never clobbers enrichment output.
	update := bson.M{"$set": bson.M{
		"caption":    p.Caption,
		"taken_at":   p.TakenAt,
		"media_type": p.MediaType,
		"permalink":  p.Permalink,
		"media_urls": p.MediaURLs,
	}}
	_, err := m.posts.UpdateOne(ctx, postKey(p.Username, p.ID), update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("store: upsert post %s/%s: %w", p.Username, p.ID, infra(err))
	}
	return nil
}

func (m *Mongo) SetAnalysis(ctx context.Context, username, postID string, a domain.AIAnalysis) error {
	res, err := m.posts.UpdateOne(ctx, postKey(username, postID), bson.M{"$set": bson.M{"ai_analysis": a}})
	if err != nil {
		return fmt.Errorf("store: set analysis %s/%s: %w", username, postID, infra(err))
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (m *Mongo) GetPost(ctx context.Context, username, postID string) (domain.Post, error) {
	var p domain.Post
	err := m.posts.FindOne(ctx, postKey(username, postID)).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Post{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Post{}, fmt.Errorf("store: get post %s/%s: %w", username, postID, infra(err))
	}
	return p, nil
}

func (m *Mongo) ListPosts(ctx context.Context, username string) ([]domain.Post, error) {
	cur, err := m.posts.Find(ctx, bson.M{"username": username},
		options.Find().SetSort(bson.D{{Key: "taken_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("store: list posts %s: %w", username, infra(err))
	}
	var out []domain.Post
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("store: decode posts %s: %w", username, infra(err))
	}
	return out, nil
}

func (m *Mongo) UpsertProfile(ctx context.Context, p domain.Profile) error {
	if err := domain.ValidateUsername(p.Username); err != nil {
		return err
	}
	_, err := m.profiles.UpdateOne(ctx,
		bson.M{"username": p.Username},
		bson.M{"$set": bson.M{"recipient_id": p.RecipientID}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("store: upsert profile %s: %w", p.Username, infra(err))
	}
	return nil
}

func (m *Mongo) GetProfile(ctx context.Context, username string) (domain.Profile, error) {
	var p domain.Profile
	err := m.profiles.FindOne(ctx, bson.M{"username": username}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Profile{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("store: get profile %s: %w", username, infra(err))
	}
	return p, nil
}

func (m *Mongo) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	cur, err := m.profiles.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("store: list profiles: %w", infra(err))
	}
	var out []domain.Profile
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("store: decode profiles: %w", infra(err))
	}
	return out, nil
}

// infra tags driver errors as infrastructure failures so jobs fail outright
// instead of recording them per item.
func infra(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrInfrastructure, err)
}
