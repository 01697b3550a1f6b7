package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "escrow_journal"

// document is the stored shape; amounts are kept as decimal strings since
// bson has no codec for decimal.Decimal.
type document struct {
	ID           string    `bson:"_id"`
	Kind         string    `bson:"kind"`
	TournamentID string    `bson:"tournament_id"`
	Wallet       string    `bson:"wallet"`
	Amount       string    `bson:"amount"`
	TxHash       string    `bson:"tx_hash"`
	Scope        string    `bson:"scope"`
	Status       string    `bson:"status"`
	Note         string    `bson:"note"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func toDocument(e Entry) document {
	return document{
		ID:           e.ID,
		Kind:         string(e.Kind),
		TournamentID: e.TournamentID,
		Wallet:       e.Wallet,
		Amount:       e.Amount.String(),
		TxHash:       e.TxHash,
		Scope:        e.Scope,
		Status:       string(e.Status),
		Note:         e.Note,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func (d document) entry() (Entry, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return Entry{}, fmt.Errorf("journal entry %s: bad amount %q: %w", d.ID, d.Amount, err)
	}
	return Entry{
		ID:           d.ID,
		Kind:         Kind(d.Kind),
		TournamentID: d.TournamentID,
		Wallet:       d.Wallet,
		Amount:       amount,
		TxHash:       d.TxHash,
		Scope:        d.Scope,
		Status:       Status(d.Status),
		Note:         d.Note,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}, nil
}

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(collectionName)}
}

func (s *MongoStore) Record(ctx context.Context, e Entry) (*Entry, error) {
	stored := prepare(e, time.Now().UTC())
	if _, err := s.coll.InsertOne(ctx, toDocument(stored)); err != nil {
		return nil, fmt.Errorf("failed to record journal entry: %w", err)
	}
	return &stored, nil
}

func (s *MongoStore) MarkSettled(ctx context.Context, id, tournamentID string) error {
	set := bson.M{"status": string(StatusSettled), "updated_at": time.Now().UTC()}
	if tournamentID != "" {
		set["tournament_id"] = tournamentID
	}
	return s.update(ctx, id, set)
}

func (s *MongoStore) MarkStranded(ctx context.Context, id, reason string) error {
	return s.update(ctx, id, bson.M{
		"status":     string(StatusStranded),
		"note":       reason,
		"updated_at": time.Now().UTC(),
	})
}

func (s *MongoStore) update(ctx context.Context, id string, set bson.M) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update journal entry: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (s *MongoStore) Stranded(ctx context.Context, wallet string) ([]Entry, error) {
	filter := bson.M{
		"wallet": strings.ToLower(strings.TrimSpace(wallet)),
		"status": string(StatusStranded),
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list stranded entries: %w", err)
	}

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode journal entries: %w", err)
	}

	entries := make([]Entry, 0, len(docs))
	for _, d := range docs {
		e, err := d.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *MongoStore) Resume(ctx context.Context, scope string) (*Entry, error) {
	filter := bson.M{"scope": scope, "status": string(StatusStranded)}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var d document
	if err := s.coll.FindOne(ctx, filter, opts).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to find stranded entry: %w", err)
	}
	e, err := d.entry()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *MongoStore) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.coll.Database().Client().Disconnect(ctx)
}
