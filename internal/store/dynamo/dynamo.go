// Package dynamo persists conversations in a single DynamoDB table.
//
// Layout: the conversation item lives at PK=CONV#<id>, SK=META# and carries
// ownerId and updatedAt for the owner index; messages live under the same
// partition at SK=MSG#<createdAt>#<messageId>.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"polychat/internal/store"
)

const (
	skMeta      = "META#"
	skPrefixMsg = "MSG#"

	// Fixed width so that lexical order matches time order in sort keys.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Store.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store wraps a DynamoDB table for conversation state.
type Store struct {
	api        dynamodbAPI
	tableName  string
	ownerIndex string
	now        store.Clock
}

// New creates a Store. ownerIndex names the global secondary index keyed by
// ownerId (partition) and updatedAt (sort).
func New(api dynamodbAPI, tableName, ownerIndex string, now store.Clock) (*Store, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamo: table name must not be empty")
	}
	if strings.TrimSpace(ownerIndex) == "" {
		return nil, errors.New("dynamo: owner index must not be empty")
	}
	if now == nil {
		now = store.SystemClock
	}
	return &Store{api: api, tableName: tableName, ownerIndex: ownerIndex, now: now}, nil
}

func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func msgSK(ts time.Time, messageID string) string {
	return skPrefixMsg + formatTime(ts) + "#" + messageID
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(timeLayout)
}

func metaKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: convPK(id)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

func (s *Store) CreateConversation(ctx context.Context, ownerID, title string) (store.Conversation, error) {
	ts := s.now()
	conv := store.Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                conversationItem(conv),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return store.Conversation{}, fmt.Errorf("dynamo: CreateConversation: %w", err)
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, ownerID, id string) (store.Conversation, error) {
	conv, err := s.getConversation(ctx, id)
	if err != nil {
		return store.Conversation{}, err
	}
	if conv.OwnerID != ownerID {
		return store.Conversation{}, store.ErrNotFound
	}
	return conv, nil
}

func (s *Store) getConversation(ctx context.Context, id string) (store.Conversation, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            metaKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return store.Conversation{}, fmt.Errorf("dynamo: get conversation %s: %w", id, err)
	}
	if out == nil || len(out.Item) == 0 {
		return store.Conversation{}, store.ErrNotFound
	}
	conv, err := itemToConversation(out.Item)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("dynamo: decode conversation %s: %w", id, err)
	}
	return conv, nil
}

func (s *Store) ListConversations(ctx context.Context, ownerID string) ([]store.Conversation, error) {
	items, err := s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(s.ownerIndex),
		KeyConditionExpression: aws.String("ownerId = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: ownerID},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: ListConversations: %w", err)
	}

	out := make([]store.Conversation, 0, len(items))
	for _, item := range items {
		conv, err := itemToConversation(item)
		if err != nil {
			return nil, fmt.Errorf("dynamo: ListConversations decode: %w", err)
		}
		out = append(out, conv)
	}
	// The index is eventually consistent; the sort also settles ties.
	store.SortConversations(out)
	return out, nil
}

func (s *Store) RenameConversation(ctx context.Context, ownerID, id, title string) (store.Conversation, error) {
	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 metaKey(id),
		UpdateExpression:    aws.String("SET title = :title, updatedAt = :updated"),
		ConditionExpression: aws.String("attribute_exists(PK) AND ownerId = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":title":   &types.AttributeValueMemberS{Value: title},
			":updated": &types.AttributeValueMemberS{Value: formatTime(s.now())},
			":owner":   &types.AttributeValueMemberS{Value: ownerID},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return store.Conversation{}, notFoundOnConditionFailure("RenameConversation", err)
	}
	conv, err := itemToConversation(out.Attributes)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("dynamo: RenameConversation decode: %w", err)
	}
	return conv, nil
}

func (s *Store) DeleteConversation(ctx context.Context, ownerID, id string) error {
	if _, err := s.GetConversation(ctx, ownerID, id); err != nil {
		return err
	}

	items, err := s.queryMessages(ctx, id, true)
	if err != nil {
		return fmt.Errorf("dynamo: DeleteConversation: %w", err)
	}
	for _, item := range items {
		_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"PK": item["PK"],
				"SK": item["SK"],
			},
		})
		if err != nil {
			return fmt.Errorf("dynamo: DeleteConversation message: %w", err)
		}
	}

	_, err = s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       metaKey(id),
	})
	if err != nil {
		return fmt.Errorf("dynamo: DeleteConversation: %w", err)
	}
	return nil
}

func (s *Store) TouchConversation(ctx context.Context, id string, ts time.Time) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 metaKey(id),
		UpdateExpression:    aws.String("SET updatedAt = :updated"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":updated": &types.AttributeValueMemberS{Value: formatTime(ts)},
		},
	})
	if err != nil {
		return notFoundOnConditionFailure("TouchConversation", err)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) (store.Message, error) {
	if _, err := s.getConversation(ctx, conversationID); err != nil {
		return store.Message{}, fmt.Errorf("append to %s: %w", conversationID, err)
	}

	msg := store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.now(),
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                messageItem(msg),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return store.Message{}, fmt.Errorf("dynamo: AppendMessage: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, ownerID, conversationID string) ([]store.Message, error) {
	if _, err := s.GetConversation(ctx, ownerID, conversationID); err != nil {
		return nil, err
	}

	items, err := s.queryMessages(ctx, conversationID, false)
	if err != nil {
		return nil, fmt.Errorf("dynamo: ListMessages: %w", err)
	}
	out := make([]store.Message, 0, len(items))
	for _, item := range items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("dynamo: ListMessages decode: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Store) Close() error {
	return nil
}

// queryMessages reads a conversation's messages newest first.
func (s *Store) queryMessages(ctx context.Context, conversationID string, keysOnly bool) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(false),
		ConsistentRead:   aws.Bool(true),
	}
	if keysOnly {
		in.ProjectionExpression = aws.String("PK, SK")
	}
	return s.queryAll(ctx, in)
}

func (s *Store) queryAll(ctx context.Context, in *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		out, err := s.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func notFoundOnConditionFailure(op string, err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return store.ErrNotFound
	}
	return fmt.Errorf("dynamo: %s: %w", op, err)
}

func conversationItem(conv store.Conversation) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(conv.ID)},
		"SK":             &types.AttributeValueMemberS{Value: skMeta},
		"conversationId": &types.AttributeValueMemberS{Value: conv.ID},
		"ownerId":        &types.AttributeValueMemberS{Value: conv.OwnerID},
		"title":          &types.AttributeValueMemberS{Value: conv.Title},
		"createdAt":      &types.AttributeValueMemberS{Value: formatTime(conv.CreatedAt)},
		"updatedAt":      &types.AttributeValueMemberS{Value: formatTime(conv.UpdatedAt)},
	}
}

func messageItem(msg store.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(msg.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(msg.CreatedAt, msg.ID)},
		"messageId":      &types.AttributeValueMemberS{Value: msg.ID},
		"conversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
		"role":           &types.AttributeValueMemberS{Value: msg.Role},
		"content":        &types.AttributeValueMemberS{Value: msg.Content},
		"createdAt":      &types.AttributeValueMemberS{Value: formatTime(msg.CreatedAt)},
	}
}

func itemToConversation(item map[string]types.AttributeValue) (store.Conversation, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return store.Conversation{}, err
	}
	owner, err := strAttr(item, "ownerId")
	if err != nil {
		return store.Conversation{}, err
	}
	title, _ := strAttr(item, "title") // allow empty
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return store.Conversation{}, err
	}
	updated, err := timeAttr(item, "updatedAt")
	if err != nil {
		return store.Conversation{}, err
	}
	return store.Conversation{
		ID:        id,
		OwnerID:   owner,
		Title:     title,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

func itemToMessage(item map[string]types.AttributeValue) (store.Message, error) {
	id, err := strAttr(item, "messageId")
	if err != nil {
		return store.Message{}, err
	}
	conversationID, err := strAttr(item, "conversationId")
	if err != nil {
		return store.Message{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return store.Message{}, err
	}
	content, _ := strAttr(item, "content") // allow empty
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return store.Message{}, err
	}
	return store.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      created,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	raw, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return ts, nil
}
