package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/eldtechnologies/batepapo/internal/models"
)

// participantDoc is the document layout of the participants collection.
type participantDoc struct {
	ID         string `bson:"_id"`
	Name       string `bson:"name"`
	LastStatus int64  `bson:"lastStatus"`
}

// messageDoc is the document layout of the messages collection. The ULID
// _id sorts in insertion order.
type messageDoc struct {
	ID   string `bson:"_id"`
	From string `bson:"from"`
	To   string `bson:"to"`
	Text string `bson:"text"`
	Type string `bson:"type"`
	Time string `bson:"time"`
}

// MongoStore stores participants and messages in two MongoDB collections.
type MongoStore struct {
	client       *mongo.Client
	participants *mongo.Collection
	messages     *mongo.Collection
}

// NewMongoStore connects to MongoDB and ensures the unique name index.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	db := client.Database(database)
	s := &MongoStore{
		client:       client,
		participants: db.Collection("participants"),
		messages:     db.Collection("messages"),
	}

	_, err = s.participants.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "lastStatus", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	// Collections cannot always be created implicitly inside a transaction,
	// so the messages collection is created here through its index.
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "to", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks the connection to the primary.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// InsertParticipant relies on the unique index on name.
func (s *MongoStore) InsertParticipant(ctx context.Context, p *models.Participant) error {
	_, err := s.participants.InsertOne(ctx, participantDoc{
		ID:         p.ID.String(),
		Name:       p.Name,
		LastStatus: p.LastStatus,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	return err
}

// GetParticipant retrieves a participant by name.
func (s *MongoStore) GetParticipant(ctx context.Context, name string) (*models.Participant, error) {
	var doc participantDoc
	err := s.participants.FindOne(ctx, bson.M{"name": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.model()
}

// TouchParticipant updates lastStatus for an existing participant.
func (s *MongoStore) TouchParticipant(ctx context.Context, name string, at time.Time) error {
	res, err := s.participants.UpdateOne(ctx,
		bson.M{"name": name},
		bson.M{"$set": bson.M{"lastStatus": at.UnixMilli()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListParticipants returns participants ordered by id (registration time).
func (s *MongoStore) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	return s.findParticipants(ctx, bson.M{})
}

// ExpiredParticipants returns participants last seen before cutoff.
func (s *MongoStore) ExpiredParticipants(ctx context.Context, cutoff time.Time) ([]models.Participant, error) {
	return s.findParticipants(ctx, bson.M{"lastStatus": bson.M{"$lt": cutoff.UnixMilli()}})
}

func (s *MongoStore) findParticipants(ctx context.Context, filter bson.M) ([]models.Participant, error) {
	cur, err := s.participants.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []participantDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	participants := make([]models.Participant, 0, len(docs))
	for _, doc := range docs {
		p, err := doc.model()
		if err != nil {
			return nil, err
		}
		participants = append(participants, *p)
	}
	return participants, nil
}

// RemoveParticipants deletes participants by name.
func (s *MongoStore) RemoveParticipants(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := s.participants.DeleteMany(ctx, bson.M{"name": bson.M{"$in": names}})
	return err
}

// AppendMessage stores a single message.
func (s *MongoStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	return s.AppendMessages(ctx, []*models.Message{msg})
}

// AppendMessages inserts all messages in one transaction. Transactions need
// a replica set or sharded cluster; a standalone mongod rejects them.
func (s *MongoStore) AppendMessages(ctx context.Context, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now()
	docs := make([]interface{}, len(msgs))
	for i, msg := range msgs {
		msg.Stamp(now)
		docs[i] = messageDoc{
			ID:   msg.ID,
			From: msg.From,
			To:   msg.To,
			Text: msg.Text,
			Type: msg.Type,
			Time: msg.Time,
		}
	}

	// InsertMany alone can stop halfway through a batch
	return s.client.UseSession(ctx, func(sc mongo.SessionContext) error {
		_, err := sc.WithTransaction(sc, func(tc mongo.SessionContext) (interface{}, error) {
			return s.messages.InsertMany(tc, docs)
		})
		return err
	})
}

// VisibleMessages returns messages visible to viewer, newest first.
func (s *MongoStore) VisibleMessages(ctx context.Context, viewer string, limit int) ([]models.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"from": viewer},
		bson.M{"to": bson.M{"$in": bson.A{models.Broadcast, viewer}}},
		bson.M{"type": models.TypeMessage},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		messages = append(messages, models.Message{
			ID:   d.ID,
			From: d.From,
			To:   d.To,
			Text: d.Text,
			Type: d.Type,
			Time: d.Time,
		})
	}
	return messages, nil
}

// Counts returns participant and message totals.
func (s *MongoStore) Counts(ctx context.Context) (Counts, error) {
	participants, err := s.participants.CountDocuments(ctx, bson.M{})
	if err != nil {
		return Counts{}, err
	}
	messages, err := s.messages.EstimatedDocumentCount(ctx)
	if err != nil {
		return Counts{}, err
	}
	return Counts{Participants: participants, Messages: messages}, nil
}

func (d participantDoc) model() (*models.Participant, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	return &models.Participant{ID: id, Name: d.Name, LastStatus: d.LastStatus}, nil
}
