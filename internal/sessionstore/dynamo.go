package sessionstore

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

	"ride-agent/internal/domain"
)

// dynamoAPI is the minimal DynamoDB interface required by Dynamo.
// Defined here for testability.
type dynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Dynamo stores sessions one item per session, JSON payload plus a version
// number for optimistic writes. Expiry rides on DynamoDB's native TTL
// attribute, with an expires_at check on read because TTL deletion lags.
type Dynamo struct {
	api       dynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// NewDynamo creates a DynamoDB-backed store. A non-positive ttl disables
// expiry.
func NewDynamo(api dynamoAPI, tableName string, ttl time.Duration) (*Dynamo, error) {
	if api == nil {
		return nil, errors.New("sessionstore: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("sessionstore: table name must not be empty")
	}
	return &Dynamo{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

func (d *Dynamo) Create(ctx context.Context, sess *domain.Session) error {
	item, err := d.sessionItem(sess, sess.Version)
	if err != nil {
		return err
	}
	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return fmt.Errorf("sessionstore: session %s already exists", sess.ID)
		}
		return fmt.Errorf("sessionstore: dynamodb put: %w", err)
	}
	return nil
}

func (d *Dynamo) Get(ctx context.Context, id string) (*domain.Session, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("sessionstore: dynamodb get: %w", err)
	}
	if out.Item == nil {
		return nil, domain.ErrSessionNotFound
	}

	sess, expiresAt, err := itemToSession(out.Item)
	if err != nil {
		return nil, err
	}
	if expiresAt > 0 && d.now().Unix() >= expiresAt {
		// TTL deletion is eventual; treat a stale item as gone and clear it.
		_, _ = d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(d.tableName),
			Key:       d.key(id),
		})
		return nil, domain.ErrSessionNotFound
	}

	if d.ttl > 0 {
		// Slide the TTL on access, best-effort.
		_, _ = d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        aws.String(d.tableName),
			Key:              d.key(id),
			UpdateExpression: aws.String("SET expires_at = :exp"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":exp": numberAttr(d.deadline()),
			},
		})
	}
	return sess, nil
}

func (d *Dynamo) Update(ctx context.Context, sess *domain.Session) error {
	expected := sess.Version
	item, err := d.sessionItem(sess, expected+1)
	if err != nil {
		return err
	}
	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(id) AND version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": numberAttr(expected),
		},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			// Condition failure is ambiguous between a lost race and an
			// expired item; disambiguate with a read.
			if _, gerr := d.Get(ctx, sess.ID); errors.Is(gerr, domain.ErrSessionNotFound) {
				return domain.ErrSessionNotFound
			}
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("sessionstore: dynamodb put: %w", err)
	}
	sess.Version = expected + 1
	return nil
}

func (d *Dynamo) Delete(ctx context.Context, id string) error {
	_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.key(id),
	})
	if err != nil {
		return fmt.Errorf("sessionstore: dynamodb delete: %w", err)
	}
	return nil
}

func (d *Dynamo) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func (d *Dynamo) deadline() int64 {
	if d.ttl <= 0 {
		return 0
	}
	return d.now().Add(d.ttl).Unix()
}

func (d *Dynamo) sessionItem(sess *domain.Session, version int64) (map[string]types.AttributeValue, error) {
	snapshot := *sess
	snapshot.Version = version
	payload, err := json.Marshal(&snapshot)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: marshal session: %w", err)
	}
	return map[string]types.AttributeValue{
		"id":         &types.AttributeValueMemberS{Value: sess.ID},
		"payload":    &types.AttributeValueMemberS{Value: string(payload)},
		"version":    numberAttr(version),
		"expires_at": numberAttr(d.deadline()),
	}, nil
}

func itemToSession(item map[string]types.AttributeValue) (*domain.Session, int64, error) {
	payload, ok := item["payload"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, 0, errors.New("sessionstore: item missing payload attribute")
	}
	var sess domain.Session
	if err := json.Unmarshal([]byte(payload.Value), &sess); err != nil {
		return nil, 0, fmt.Errorf("sessionstore: unmarshal session: %w", err)
	}

	var expiresAt int64
	if attr, ok := item["expires_at"].(*types.AttributeValueMemberN); ok {
		v, err := strconv.ParseInt(attr.Value, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("sessionstore: parse expires_at: %w", err)
		}
		expiresAt = v
	}
	return &sess, expiresAt, nil
}

func numberAttr(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}
