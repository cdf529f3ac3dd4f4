package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"codex-rag/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table for conversation state.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// GetHistory returns up to limit of the most recent turns in chronological order.
func (c *Client) GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	msgs, err := c.queryMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory: %w", err)
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// queryMessages reads MSG# items newest first.
func (c *Client) queryMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// GetConversationTurnCount returns the persisted successful turn count for a conversation.
func (c *Client) GetConversationTurnCount(ctx context.Context, conversationID string) (int, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: GetConversationTurnCount get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}

	turns, err := intAttr(out.Item, "turns")
	if err != nil {
		return 0, fmt.Errorf("repository: GetConversationTurnCount decode turns: %w", err)
	}
	return turns, nil
}

// SaveCompletedTurn writes the completed turn and updated metadata in one
// transaction.
func (c *Client) SaveCompletedTurn(ctx context.Context, turn domain.Turn) error {
	if strings.TrimSpace(turn.ConversationID) == "" {
		return errors.New("repository: SaveCompletedTurn: conversation id is required")
	}
	msg := c.newMessage(turn)
	meta := c.newConversationMeta(turn.ConversationID, turn.Turns)

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                messageItem(msg),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      metaItem(meta),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveCompletedTurn: %w", err)
	}
	return nil
}

// OverrideLatestAnswer replaces the answer of the newest turn in place. The
// first override keeps the model's answer in originalAnswer.
func (c *Client) OverrideLatestAnswer(ctx context.Context, conversationID, answer string) error {
	latest, err := c.queryMessages(ctx, conversationID, 1)
	if err != nil {
		return fmt.Errorf("repository: OverrideLatestAnswer: %w", err)
	}
	if len(latest) == 0 {
		return fmt.Errorf("repository: OverrideLatestAnswer %q: %w", conversationID, domain.ErrNoAssistantMessage)
	}

	_, err = c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: latest[0].PK},
			"SK": &types.AttributeValueMemberS{Value: latest[0].SK},
		},
		UpdateExpression: aws.String("SET answer = :answer, overridden = :true, originalAnswer = if_not_exists(originalAnswer, :previous)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":answer":   &types.AttributeValueMemberS{Value: answer},
			":true":     &types.AttributeValueMemberBOOL{Value: true},
			":previous": &types.AttributeValueMemberS{Value: latest[0].Answer},
		},
		ConditionExpression: aws.String("attribute_exists(PK) AND attribute_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: OverrideLatestAnswer update: %w", err)
	}
	return nil
}

func (c *Client) newMessage(turn domain.Turn) domain.Message {
	now := c.now().UTC()
	return domain.Message{
		PK:             convPK(turn.ConversationID),
		SK:             msgSK(now),
		ConversationID: turn.ConversationID,
		Text:           turn.Question,
		Answer:         turn.Answer,
		OriginalAnswer: turn.OriginalAnswer,
		Overridden:     turn.Overridden,
		Status:         domain.StatusComplete,
		TTL:            c.ttlValue(),
	}
}

func (c *Client) newConversationMeta(conversationID string, turns int) domain.ConversationMeta {
	return domain.ConversationMeta{
		PK:             convPK(conversationID),
		SK:             skMeta,
		ConversationID: conversationID,
		LastActivity:   c.now().UTC().Format(time.RFC3339),
		Turns:          turns,
		TTL:            c.ttlValue(),
	}
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Message{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Message{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Message{}, err
	}
	answer, _ := strAttr(item, "answer")
	original, _ := strAttr(item, "originalAnswer")
	status, _ := strAttr(item, "status")
	convID, _ := strAttr(item, "conversationId")
	overridden := false
	if v, ok := item["overridden"].(*types.AttributeValueMemberBOOL); ok {
		overridden = v.Value
	}

	return domain.Message{
		PK:             pk,
		SK:             sk,
		ConversationID: convID,
		Text:           text,
		Answer:         answer,
		OriginalAnswer: original,
		Overridden:     overridden,
		Status:         status,
	}, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: msg.PK},
		"SK":             &types.AttributeValueMemberS{Value: msg.SK},
		"conversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
		"text":           &types.AttributeValueMemberS{Value: msg.Text},
		"answer":         &types.AttributeValueMemberS{Value: msg.Answer},
		"overridden":     &types.AttributeValueMemberBOOL{Value: msg.Overridden},
		"tokens":         &types.AttributeValueMemberN{Value: strconv.Itoa(msg.Tokens)},
		"status":         &types.AttributeValueMemberS{Value: msg.Status},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(msg.TTL, 10)},
	}
	if msg.OriginalAnswer != "" {
		item["originalAnswer"] = &types.AttributeValueMemberS{Value: msg.OriginalAnswer}
	}
	return item
}

func metaItem(meta domain.ConversationMeta) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: meta.PK},
		"SK":             &types.AttributeValueMemberS{Value: meta.SK},
		"conversationId": &types.AttributeValueMemberS{Value: meta.ConversationID},
		"lastActivity":   &types.AttributeValueMemberS{Value: meta.LastActivity},
		"turns":          &types.AttributeValueMemberN{Value: strconv.Itoa(meta.Turns)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(meta.TTL, 10)},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
