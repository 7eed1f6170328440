package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autopilot/internal/database"
	"autopilot/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NewMongoStores returns stores backed by MongoDB collections
func NewMongoStores(db *database.MongoDB) *Stores {
	return &Stores{
		Signals:     &MongoSignalStore{collection: db.Collection(database.CollectionSignals)},
		Intents:     &MongoIntentStore{collection: db.Collection(database.CollectionIntents)},
		Drafts:      &MongoDraftStore{collection: db.Collection(database.CollectionDrafts)},
		Outcomes:    &MongoOutcomeStore{collection: db.Collection(database.CollectionOutcomes)},
		Strategies:  &MongoStrategyStore{collection: db.Collection(database.CollectionStrategies)},
		Preferences: &MongoPreferenceStore{collection: db.Collection(database.CollectionPreferences)},
		Goals:       &MongoGoalStore{collection: db.Collection(database.CollectionGoals)},
	}
}

func findOptions(sort bson.D, limit, offset int) *options.FindOptions {
	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	return opts
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

// MongoSignalStore persists signals in the signals collection
type MongoSignalStore struct {
	collection *mongo.Collection
}

func (s *MongoSignalStore) Create(ctx context.Context, sig *models.Signal) error {
	now := time.Now()
	sig.ID = primitive.NewObjectID()
	sig.CreatedAt = now
	sig.UpdatedAt = now
	if sig.Status == "" {
		sig.Status = models.SignalStatusPending
	}

	if _, err := s.collection.InsertOne(ctx, sig); err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

func (s *MongoSignalStore) Get(ctx context.Context, userID string, id primitive.ObjectID) (*models.Signal, error) {
	filter := bson.M{"_id": id}
	if userID != "" {
		filter["userId"] = userID
	}

	var sig models.Signal
	if err := s.collection.FindOne(ctx, filter).Decode(&sig); err != nil {
		return nil, notFound(err)
	}
	return &sig, nil
}

func (s *MongoSignalStore) SetWorkflow(ctx context.Context, id primitive.ObjectID, workflowID string) error {
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id, "processed": false},
		bson.M{"$set": bson.M{
			"workflowId": workflowID,
			"status":     models.SignalStatusProcessing,
			"updatedAt":  time.Now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to set signal workflow: %w", err)
	}
	if result.MatchedCount == 0 {
		return s.missingOrProcessed(ctx, id)
	}
	return nil
}

func (s *MongoSignalStore) MarkProcessed(ctx context.Context, id primitive.ObjectID, status models.SignalStatus, errMsg string) error {
	now := time.Now()
	set := bson.M{
		"processed":   true,
		"status":      status,
		"processedAt": now,
		"updatedAt":   now,
	}
	if errMsg != "" {
		set["error"] = errMsg
	}

	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": id, "processed": false}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to mark signal processed: %w", err)
	}
	if result.MatchedCount == 0 {
		return s.missingOrProcessed(ctx, id)
	}
	return nil
}

func (s *MongoSignalStore) missingOrProcessed(ctx context.Context, id primitive.ObjectID) error {
	count, err := s.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check signal: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *MongoSignalStore) List(ctx context.Context, f SignalFilter) ([]models.Signal, int64, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	if f.Processed != nil {
		filter["processed"] = *f.Processed
	}

	total, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count signals: %w", err)
	}

	cursor, err := s.collection.Find(ctx, filter, findOptions(bson.D{{Key: "createdAt", Value: -1}}, f.Limit, f.Offset))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list signals: %w", err)
	}
	defer cursor.Close(ctx)

	signals := []models.Signal{}
	if err := cursor.All(ctx, &signals); err != nil {
		return nil, 0, fmt.Errorf("failed to decode signals: %w", err)
	}
	return signals, total, nil
}

func (s *MongoSignalStore) FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	now := time.Now()
	result, err := s.collection.UpdateMany(ctx,
		bson.M{
			"processed":  false,
			"workflowId": bson.M{"$exists": true, "$ne": ""},
			"createdAt":  bson.M{"$lt": cutoff},
		},
		bson.M{"$set": bson.M{
			"processed":   true,
			"status":      models.SignalStatusFailed,
			"error":       reason,
			"processedAt": now,
			"updatedAt":   now,
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale signals: %w", err)
	}
	return result.ModifiedCount, nil
}

// MongoIntentStore persists intents
type MongoIntentStore struct {
	collection *mongo.Collection
}

func (s *MongoIntentStore) Create(ctx context.Context, i *models.Intent) error {
	i.ID = primitive.NewObjectID()
	i.CreatedAt = time.Now()

	if _, err := s.collection.InsertOne(ctx, i); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert intent: %w", err)
	}
	return nil
}

func (s *MongoIntentStore) GetBySignal(ctx context.Context, signalID primitive.ObjectID) (*models.Intent, error) {
	var i models.Intent
	if err := s.collection.FindOne(ctx, bson.M{"signalId": signalID}).Decode(&i); err != nil {
		return nil, notFound(err)
	}
	return &i, nil
}

// MongoDraftStore persists drafts
type MongoDraftStore struct {
	collection *mongo.Collection
}

func (s *MongoDraftStore) Create(ctx context.Context, d *models.Draft) error {
	now := time.Now()
	d.ID = primitive.NewObjectID()
	d.CreatedAt = now
	d.UpdatedAt = now

	if _, err := s.collection.InsertOne(ctx, d); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert draft: %w", err)
	}
	return nil
}

func (s *MongoDraftStore) Get(ctx context.Context, id primitive.ObjectID) (*models.Draft, error) {
	var d models.Draft
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (s *MongoDraftStore) List(ctx context.Context, f DraftFilter) ([]models.Draft, int64, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}

	total, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count drafts: %w", err)
	}

	cursor, err := s.collection.Find(ctx, filter, findOptions(bson.D{{Key: "createdAt", Value: -1}}, f.Limit, f.Offset))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list drafts: %w", err)
	}
	defer cursor.Close(ctx)

	drafts := []models.Draft{}
	if err := cursor.All(ctx, &drafts); err != nil {
		return nil, 0, fmt.Errorf("failed to decode drafts: %w", err)
	}
	return drafts, total, nil
}

func (s *MongoDraftStore) Transition(ctx context.Context, id primitive.ObjectID, from, to models.DraftStatus, reviewedBy string) (*models.Draft, error) {
	now := time.Now()
	set := bson.M{"status": to, "updatedAt": now}
	switch to {
	case models.DraftStatusApproved, models.DraftStatusRejected:
		set["reviewedBy"] = reviewedBy
		set["reviewedAt"] = now
	case models.DraftStatusExecuted:
		set["executedAt"] = now
	}

	var d models.Draft
	err := s.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if err == nil {
		return &d, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to update draft status: %w", err)
	}

	count, err := s.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to check draft: %w", err)
	}
	if count == 0 {
		return nil, ErrNotFound
	}
	return nil, ErrConflict
}

// MongoOutcomeStore persists outcomes
type MongoOutcomeStore struct {
	collection *mongo.Collection
}

func (s *MongoOutcomeStore) Create(ctx context.Context, o *models.Outcome) error {
	o.ID = primitive.NewObjectID()
	o.CreatedAt = time.Now()

	if _, err := s.collection.InsertOne(ctx, o); err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	return nil
}

func (s *MongoOutcomeStore) List(ctx context.Context, f OutcomeFilter) ([]models.Outcome, int64, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	if f.OutcomeType != "" {
		filter["outcomeType"] = f.OutcomeType
	}

	total, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count outcomes: %w", err)
	}

	cursor, err := s.collection.Find(ctx, filter, findOptions(bson.D{{Key: "createdAt", Value: -1}}, f.Limit, f.Offset))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer cursor.Close(ctx)

	outcomes := []models.Outcome{}
	if err := cursor.All(ctx, &outcomes); err != nil {
		return nil, 0, fmt.Errorf("failed to decode outcomes: %w", err)
	}
	return outcomes, total, nil
}

func (s *MongoOutcomeStore) Recent(ctx context.Context, userID string, limit int) ([]models.Outcome, error) {
	outcomes, _, err := s.List(ctx, OutcomeFilter{UserID: userID, Limit: limit})
	return outcomes, err
}

// MongoStrategyStore persists strategies with optimistic concurrency on version
type MongoStrategyStore struct {
	collection *mongo.Collection
}

func (s *MongoStrategyStore) Create(ctx context.Context, st *models.Strategy) error {
	now := time.Now()
	st.ID = primitive.NewObjectID()
	st.CreatedAt = now
	st.UpdatedAt = now
	st.Version = 1

	if _, err := s.collection.InsertOne(ctx, st); err != nil {
		return fmt.Errorf("failed to insert strategy: %w", err)
	}
	return nil
}

func (s *MongoStrategyStore) Get(ctx context.Context, userID string, id primitive.ObjectID) (*models.Strategy, error) {
	filter := bson.M{"_id": id}
	if userID != "" {
		filter["userId"] = userID
	}

	var st models.Strategy
	if err := s.collection.FindOne(ctx, filter).Decode(&st); err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

func (s *MongoStrategyStore) ListActive(ctx context.Context, userID string, limit int) ([]models.Strategy, error) {
	cursor, err := s.collection.Find(ctx,
		bson.M{"userId": userID, "active": true},
		findOptions(bson.D{{Key: "confidence", Value: -1}, {Key: "_id", Value: 1}}, limit, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}
	defer cursor.Close(ctx)

	strategies := []models.Strategy{}
	if err := cursor.All(ctx, &strategies); err != nil {
		return nil, fmt.Errorf("failed to decode strategies: %w", err)
	}
	return strategies, nil
}

func (s *MongoStrategyStore) Update(ctx context.Context, st *models.Strategy) error {
	now := time.Now()
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": st.ID, "version": st.Version},
		bson.M{"$set": bson.M{
			"confidence":   models.ClampConfidence(st.Confidence),
			"successCount": st.SuccessCount,
			"failureCount": st.FailureCount,
			"active":       st.Active,
			"learnedFrom":  st.LearnedFrom,
			"pattern":      st.Pattern,
			"version":      st.Version + 1,
			"updatedAt":    now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update strategy: %w", err)
	}

	if result.MatchedCount == 0 {
		count, err := s.collection.CountDocuments(ctx, bson.M{"_id": st.ID})
		if err != nil {
			return fmt.Errorf("failed to check strategy: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}

	st.Version++
	st.UpdatedAt = now
	return nil
}

// MongoPreferenceStore persists preferences
type MongoPreferenceStore struct {
	collection *mongo.Collection
}

func (s *MongoPreferenceStore) Upsert(ctx context.Context, userID, preferenceType string, value interface{}, confidence float64) (*models.Preference, error) {
	now := time.Now()

	var p models.Preference
	err := s.collection.FindOneAndUpdate(ctx,
		bson.M{"userId": userID, "preferenceType": preferenceType},
		bson.M{
			"$set": bson.M{
				"value":      value,
				"confidence": models.ClampConfidence(confidence),
				"updatedAt":  now,
			},
			"$inc":         bson.M{"evidenceCount": 1},
			"$setOnInsert": bson.M{"createdAt": now},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&p)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert preference: %w", err)
	}
	return &p, nil
}

func (s *MongoPreferenceStore) Map(ctx context.Context, userID string) (map[string]models.Preference, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	defer cursor.Close(ctx)

	var prefs []models.Preference
	if err := cursor.All(ctx, &prefs); err != nil {
		return nil, fmt.Errorf("failed to decode preferences: %w", err)
	}

	out := make(map[string]models.Preference, len(prefs))
	for _, p := range prefs {
		out[p.PreferenceType] = p
	}
	return out, nil
}

// MongoGoalStore reads goals
type MongoGoalStore struct {
	collection *mongo.Collection
}

func (s *MongoGoalStore) Create(ctx context.Context, g *models.Goal) error {
	now := time.Now()
	g.ID = primitive.NewObjectID()
	g.CreatedAt = now
	g.UpdatedAt = now
	if g.Status == "" {
		g.Status = models.GoalStatusActive
	}

	if _, err := s.collection.InsertOne(ctx, g); err != nil {
		return fmt.Errorf("failed to insert goal: %w", err)
	}
	return nil
}

func (s *MongoGoalStore) ListActive(ctx context.Context, userID string) ([]models.Goal, error) {
	cursor, err := s.collection.Find(ctx,
		bson.M{"userId": userID, "status": models.GoalStatusActive},
		options.Find().SetSort(bson.D{{Key: "priority", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	defer cursor.Close(ctx)

	goals := []models.Goal{}
	if err := cursor.All(ctx, &goals); err != nil {
		return nil, fmt.Errorf("failed to decode goals: %w", err)
	}
	return goals, nil
}
