package mongo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"opschat/internal/domain/chat"
)

const conversationsCollection = "conversations"

type conversationDoc struct {
	ID            string    `bson:"_id"`
	CustomerID    string    `bson:"customer_id"`
	CustomerName  string    `bson:"customer_name,omitempty"`
	CustomerEmail string    `bson:"customer_email,omitempty"`
	Status        string    `bson:"status"`
	Mode          string    `bson:"mode"`
	LastMessage   string    `bson:"last_message,omitempty"`
	LastMessageAt time.Time `bson:"last_message_at,omitempty"`
	UnreadCount   int       `bson:"unread_count"`
	CreatedAt     time.Time `bson:"created_at"`
}

// ConversationStore persists conversation summary rows.
type ConversationStore struct {
	col    *mongo.Collection
	logger *slog.Logger
}

func NewConversationStore(client *Client, logger *slog.Logger) *ConversationStore {
	return &ConversationStore{col: client.DB.Collection(conversationsCollection), logger: logger}
}

var _ chat.ConversationRepository = (*ConversationStore)(nil)

// EnsureIndexes creates the lookup indexes used by the roster queries.
func (s *ConversationStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "customer_id", Value: 1}}},
		{Keys: bson.D{{Key: "last_message_at", Value: -1}}},
	})
	return err
}

// List returns all conversations, or only the given customer's when
// customerID is non-empty, ordered by most recent activity first.
func (s *ConversationStore) List(ctx context.Context, customerID string) ([]chat.Conversation, error) {
	filter := bson.M{}
	if customerID != "" {
		filter["customer_id"] = customerID
	}
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}})
	cursor, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	conversations := make([]chat.Conversation, 0)
	for cursor.Next(ctx) {
		var doc conversationDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		conversations = append(conversations, doc.toDomain())
	}
	return conversations, cursor.Err()
}

// Get loads one conversation by id.
func (s *ConversationStore) Get(ctx context.Context, id string) (chat.Conversation, error) {
	var doc conversationDoc
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Conversation{}, chat.ErrConversationGone
	}
	if err != nil {
		return chat.Conversation{}, err
	}
	return doc.toDomain(), nil
}

// GetOrCreateForCustomer returns the customer's active thread, creating one
// on first contact.
func (s *ConversationStore) GetOrCreateForCustomer(ctx context.Context, customerID, name, email string) (chat.Conversation, bool, error) {
	var doc conversationDoc
	err := s.col.FindOne(ctx, bson.M{
		"customer_id": customerID,
		"status":      string(chat.StatusActive),
	}).Decode(&doc)
	if err == nil {
		return doc.toDomain(), false, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Conversation{}, false, err
	}

	now := time.Now().UTC()
	doc = conversationDoc{
		ID:            uuid.NewString(),
		CustomerID:    customerID,
		CustomerName:  name,
		CustomerEmail: email,
		Status:        string(chat.StatusActive),
		Mode:          string(chat.ModeAutomated),
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if _, err := s.col.InsertOne(ctx, doc); err != nil {
		return chat.Conversation{}, false, err
	}
	return doc.toDomain(), true, nil
}

// RecordMessage refreshes the denormalized last-message fields and, when
// countUnread is set, bumps the unread counter. Returns the updated row.
func (s *ConversationStore) RecordMessage(ctx context.Context, id, preview string, at time.Time, countUnread bool) (chat.Conversation, error) {
	update := bson.M{
		"$set": bson.M{"last_message": preview, "last_message_at": at.UTC()},
	}
	if countUnread {
		update["$inc"] = bson.M{"unread_count": 1}
	}
	return s.findOneAndUpdate(ctx, id, update)
}

// ClearUnread reconciles the unread counter to zero after a successful
// mark-read acknowledgement.
func (s *ConversationStore) ClearUnread(ctx context.Context, id string) (chat.Conversation, error) {
	return s.findOneAndUpdate(ctx, id, bson.M{"$set": bson.M{"unread_count": 0}})
}

// SetStatus moves the conversation between active, resolved and archived.
func (s *ConversationStore) SetStatus(ctx context.Context, id string, status chat.Status) (chat.Conversation, error) {
	return s.findOneAndUpdate(ctx, id, bson.M{"$set": bson.M{"status": string(status)}})
}

// SetMode switches between the automated agent and human handling.
func (s *ConversationStore) SetMode(ctx context.Context, id string, mode chat.Mode) (chat.Conversation, error) {
	return s.findOneAndUpdate(ctx, id, bson.M{"$set": bson.M{"mode": string(mode)}})
}

// Delete removes the summary row.
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return chat.ErrConversationGone
	}
	return nil
}

func (s *ConversationStore) findOneAndUpdate(ctx context.Context, id string, update bson.M) (chat.Conversation, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc conversationDoc
	err := s.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Conversation{}, chat.ErrConversationGone
	}
	if err != nil {
		return chat.Conversation{}, err
	}
	return doc.toDomain(), nil
}

func (d conversationDoc) toDomain() chat.Conversation {
	status, err := chat.ParseStatus(d.Status)
	if err != nil {
		status = chat.StatusActive
	}
	mode, err := chat.ParseMode(d.Mode)
	if err != nil {
		mode = chat.ModeAutomated
	}
	return chat.Conversation{
		ID:            d.ID,
		CustomerID:    d.CustomerID,
		CustomerName:  d.CustomerName,
		CustomerEmail: d.CustomerEmail,
		Status:        status,
		Mode:          mode,
		LastMessage:   d.LastMessage,
		LastMessageAt: d.LastMessageAt,
		UnreadCount:   d.UnreadCount,
		CreatedAt:     d.CreatedAt,
	}
}
