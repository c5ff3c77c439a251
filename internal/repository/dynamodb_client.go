package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"interview-agent/internal/domain"
)

const (
	skState  = "STATE#"
	skRecord = "RECORD#"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores interview sessions in a single DynamoDB table.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func sessionPK(id string) string {
	return "SESSION#" + id
}

func key(id, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(id)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// GetSession reads the current session state with a consistent read.
func (c *Client) GetSession(ctx context.Context, id string) (domain.Session, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(id, skState),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: GetSession: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Session{}, ErrNotFound
	}
	s, err := itemToSession(out.Item)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: GetSession decode: %w", err)
	}
	return s, nil
}

// SaveSession writes the session if the stored version still equals expectedVersion.
func (c *Client) SaveSession(ctx context.Context, s domain.Session, expectedVersion int) error {
	if err := checkVersion(s, expectedVersion); err != nil {
		return fmt.Errorf("repository: SaveSession: %w", err)
	}
	cond, names, values := versionCondition(expectedVersion)
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(c.tableName),
		Item:                      sessionItem(stamp(s, c.now())),
		ConditionExpression:       cond,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("repository: SaveSession: %w", mapConditionErr(err))
	}
	return nil
}

// SaveRecord writes the finished session and its interview record in one transaction.
func (c *Client) SaveRecord(ctx context.Context, s domain.Session, expectedVersion int, rec domain.InterviewRecord) error {
	if err := checkVersion(s, expectedVersion); err != nil {
		return fmt.Errorf("repository: SaveRecord: %w", err)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("repository: SaveRecord marshal record: %w", err)
	}
	now := c.now()
	cond, names, values := versionCondition(expectedVersion)

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:                 aws.String(c.tableName),
					Item:                      sessionItem(stamp(s, now)),
					ConditionExpression:       cond,
					ExpressionAttributeNames:  names,
					ExpressionAttributeValues: values,
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                recordItem(s.ID, body, now),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveRecord: %w", mapConditionErr(err))
	}
	return nil
}

// GetRecord returns the interview record stored when the session finished.
func (c *Client) GetRecord(ctx context.Context, id string) (domain.InterviewRecord, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(id, skRecord),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.InterviewRecord{}, fmt.Errorf("repository: GetRecord: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.InterviewRecord{}, ErrNotFound
	}
	raw, err := strAttr(out.Item, "record")
	if err != nil {
		return domain.InterviewRecord{}, fmt.Errorf("repository: GetRecord decode: %w", err)
	}
	var rec domain.InterviewRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return domain.InterviewRecord{}, fmt.Errorf("repository: GetRecord unmarshal: %w", err)
	}
	return rec, nil
}

func versionCondition(expected int) (*string, map[string]string, map[string]types.AttributeValue) {
	if expected == 0 {
		return aws.String("attribute_not_exists(PK)"), nil, nil
	}
	return aws.String("#v = :expected"),
		map[string]string{"#v": "version"},
		map[string]types.AttributeValue{":expected": &types.AttributeValueMemberN{Value: strconv.Itoa(expected)}}
}

func mapConditionErr(err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrVersionConflict
	}
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return ErrVersionConflict
			}
		}
	}
	return err
}

func sessionItem(s domain.Session) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: sessionPK(s.ID)},
		"SK":           &types.AttributeValueMemberS{Value: skState},
		"sessionId":    &types.AttributeValueMemberS{Value: s.ID},
		"name":         &types.AttributeValueMemberS{Value: s.Name},
		"version":      &types.AttributeValueMemberN{Value: strconv.Itoa(s.Version)},
		"state":        &types.AttributeValueMemberB{Value: s.State},
		"status":       &types.AttributeValueMemberS{Value: s.Status},
		"turns":        &types.AttributeValueMemberN{Value: strconv.Itoa(s.Turns)},
		"lastActivity": &types.AttributeValueMemberS{Value: s.LastActivity},
		"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(s.TTL, 10)},
	}
}

func recordItem(id string, body []byte, now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(id)},
		"SK":        &types.AttributeValueMemberS{Value: skRecord},
		"sessionId": &types.AttributeValueMemberS{Value: id},
		"record":    &types.AttributeValueMemberS{Value: string(body)},
		"createdAt": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttlDuration).Unix(), 10)},
	}
}

func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	id, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Session{}, err
	}
	version, err := intAttr(item, "version")
	if err != nil {
		return domain.Session{}, err
	}
	state, err := binAttr(item, "state")
	if err != nil {
		return domain.Session{}, err
	}
	turns, err := intAttr(item, "turns")
	if err != nil {
		return domain.Session{}, err
	}
	name, _ := strAttr(item, "name") // allow empty
	status, _ := strAttr(item, "status")
	lastActivity, _ := strAttr(item, "lastActivity")
	ttl, _ := intAttr(item, "ttl")

	return domain.Session{
		ID:           id,
		Name:         name,
		Version:      version,
		State:        state,
		Status:       status,
		Turns:        turns,
		LastActivity: lastActivity,
		TTL:          int64(ttl),
	}, nil
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

func binAttr(item map[string]types.AttributeValue, key string) ([]byte, error) {
	v, ok := item[key]
	if !ok {
		return nil, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not binary", key)
	}
	return b.Value, nil
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
