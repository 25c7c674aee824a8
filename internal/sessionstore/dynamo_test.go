package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"ride-agent/internal/domain"
)

type fakeDynamo struct {
	getOut        *dynamodb.GetItemOutput
	getErr        error
	putErr        error
	deleteCalls   int
	lastGetInput  *dynamodb.GetItemInput
	lastPutInput  *dynamodb.PutItemInput
	lastUpdateIn  *dynamodb.UpdateItemInput
	lastDeleteIn  *dynamodb.DeleteItemInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateIn = in
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.deleteCalls++
	f.lastDeleteIn = in
	return &dynamodb.DeleteItemOutput{}, nil
}

func makeSessionItem(t *testing.T, sess *domain.Session, expiresAt int64) map[string]types.AttributeValue {
	t.Helper()
	payload, err := json.Marshal(sess)
	require.NoError(t, err)
	return map[string]types.AttributeValue{
		"id":         &types.AttributeValueMemberS{Value: sess.ID},
		"payload":    &types.AttributeValueMemberS{Value: string(payload)},
		"version":    &types.AttributeValueMemberN{Value: strconv.FormatInt(sess.Version, 10)},
		"expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)},
	}
}

func mustNewDynamo(t *testing.T, db *fakeDynamo, ttl time.Duration) *Dynamo {
	t.Helper()
	d, err := NewDynamo(db, "test-table", ttl)
	require.NoError(t, err)
	return d
}

func TestNewDynamo_Validation(t *testing.T) {
	_, err := NewDynamo(nil, "t", time.Hour)
	require.Error(t, err)
	_, err = NewDynamo(&fakeDynamo{}, "  ", time.Hour)
	require.Error(t, err)
}

func TestDynamo_CreateSetsConditionAndItem(t *testing.T) {
	db := &fakeDynamo{}
	d := mustNewDynamo(t, db, time.Hour)

	require.NoError(t, d.Create(context.Background(), testSession("s1")))
	require.NotNil(t, db.lastPutInput)
	require.Equal(t, "attribute_not_exists(id)", *db.lastPutInput.ConditionExpression)
	require.Contains(t, db.lastPutInput.Item, "payload")
	require.Contains(t, db.lastPutInput.Item, "expires_at")
}

func TestDynamo_GetHappyPath(t *testing.T) {
	sess := testSession("s1")
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{
		Item: makeSessionItem(t, sess, time.Now().Add(time.Hour).Unix()),
	}}
	d := mustNewDynamo(t, db, time.Hour)

	got, err := d.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, sess.ID, got.ID)
	// Access slides the stored TTL.
	require.NotNil(t, db.lastUpdateIn)
}

func TestDynamo_GetMissing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	d := mustNewDynamo(t, db, time.Hour)

	_, err := d.Get(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestDynamo_GetExpiredItemIsDeleted(t *testing.T) {
	sess := testSession("s1")
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{
		Item: makeSessionItem(t, sess, time.Now().Add(-time.Minute).Unix()),
	}}
	d := mustNewDynamo(t, db, time.Hour)

	_, err := d.Get(context.Background(), "s1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	require.Equal(t, 1, db.deleteCalls)
}

func TestDynamo_UpdateBumpsVersion(t *testing.T) {
	db := &fakeDynamo{}
	d := mustNewDynamo(t, db, time.Hour)

	sess := testSession("s1")
	sess.Version = 3
	require.NoError(t, d.Update(context.Background(), sess))
	require.Equal(t, int64(4), sess.Version)
	require.Equal(t, "attribute_exists(id) AND version = :expected",
		*db.lastPutInput.ConditionExpression)
	expected := db.lastPutInput.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN)
	require.Equal(t, "3", expected.Value)
}

func TestDynamo_UpdateConflict(t *testing.T) {
	sess := testSession("s1")
	db := &fakeDynamo{
		putErr: &types.ConditionalCheckFailedException{},
		getOut: &dynamodb.GetItemOutput{
			Item: makeSessionItem(t, sess, time.Now().Add(time.Hour).Unix()),
		},
	}
	d := mustNewDynamo(t, db, time.Hour)

	err := d.Update(context.Background(), testSession("s1"))
	require.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestDynamo_UpdateVanishedSession(t *testing.T) {
	db := &fakeDynamo{
		putErr: &types.ConditionalCheckFailedException{},
		getOut: &dynamodb.GetItemOutput{},
	}
	d := mustNewDynamo(t, db, time.Hour)

	err := d.Update(context.Background(), testSession("s1"))
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestDynamo_UpdateTransportError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("boom")}
	d := mustNewDynamo(t, db, time.Hour)

	err := d.Update(context.Background(), testSession("s1"))
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrVersionConflict)
}
