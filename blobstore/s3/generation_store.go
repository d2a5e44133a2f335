package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// ErrConcurrentModification is returned when another writer committed the
// same generation first.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// ErrNoGenerations is returned by Latest when a namespace has no committed
// generations yet.
var ErrNoGenerations = errors.New("no committed generations")

// CommitRecord is one committed generation of a namespace's derived
// artifacts. ArtifactKey names the blob the generation refers to (snapshot
// file, stats bundle).
type CommitRecord struct {
	Namespace   string
	Generation  uint64
	ArtifactKey string
	CommittedAt time.Time
}

// GenerationStore coordinates generation numbers across processes using
// DynamoDB conditional writes. S3 alone has no compare-and-swap, so the
// commit log lives here: each generation of a namespace is one item, and
// attribute_not_exists on the sort key makes commits race-safe.
//
// Table schema:
//   - Partition key: namespace (string)
//   - Sort key: generation (number), monotonically increasing
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name embedspace-generations \
//	  --attribute-definitions AttributeName=namespace,AttributeType=S AttributeName=generation,AttributeType=N \
//	  --key-schema AttributeName=namespace,KeyType=HASH AttributeName=generation,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type GenerationStore struct {
	client    DDBClient
	tableName string
}

// NewGenerationStore creates a DynamoDB-backed generation store.
func NewGenerationStore(client DDBClient, tableName string) *GenerationStore {
	return &GenerationStore{
		client:    client,
		tableName: tableName,
	}
}

// Latest returns the newest committed generation for a namespace, or
// ErrNoGenerations if nothing was committed yet.
func (s *GenerationStore) Latest(ctx context.Context, namespace string) (CommitRecord, error) {
	resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("#ns = :ns"),
		ExpressionAttributeNames: map[string]string{
			"#ns": "namespace",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ns": &types.AttributeValueMemberS{Value: namespace},
		},
		ScanIndexForward: aws.Bool(false), // newest first
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return CommitRecord{}, fmt.Errorf("query generations: %w", err)
	}

	if len(resp.Items) == 0 {
		return CommitRecord{}, ErrNoGenerations
	}

	return decodeCommitRecord(resp.Items[0])
}

// NextGeneration returns the generation number a new commit should use:
// one past the latest, starting at 1.
func (s *GenerationStore) NextGeneration(ctx context.Context, namespace string) (uint64, error) {
	latest, err := s.Latest(ctx, namespace)
	if errors.Is(err, ErrNoGenerations) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return latest.Generation + 1, nil
}

// Commit writes a generation record. The conditional put fails with
// ErrConcurrentModification when the generation already exists, in which
// case the caller re-reads NextGeneration and retries.
func (s *GenerationStore) Commit(ctx context.Context, rec CommitRecord) error {
	if rec.Namespace == "" {
		return errors.New("commit record missing namespace")
	}
	if rec.Generation == 0 {
		return errors.New("generations start at 1")
	}
	committedAt := rec.CommittedAt
	if committedAt.IsZero() {
		committedAt = time.Now().UTC()
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"namespace":    &types.AttributeValueMemberS{Value: rec.Namespace},
			"generation":   &types.AttributeValueMemberN{Value: strconv.FormatUint(rec.Generation, 10)},
			"artifact_key": &types.AttributeValueMemberS{Value: rec.ArtifactKey},
			"committed_at": &types.AttributeValueMemberS{Value: committedAt.Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(generation)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("commit generation: %w", err)
	}

	return nil
}

// Delete removes one generation record. Used when a namespace is reset and
// its artifact history should go with it.
func (s *GenerationStore) Delete(ctx context.Context, namespace string, generation uint64) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"namespace":  &types.AttributeValueMemberS{Value: namespace},
			"generation": &types.AttributeValueMemberN{Value: strconv.FormatUint(generation, 10)},
		},
	})
	return err
}

func decodeCommitRecord(item map[string]types.AttributeValue) (CommitRecord, error) {
	var rec CommitRecord

	nsAttr, ok := item["namespace"].(*types.AttributeValueMemberS)
	if !ok {
		return rec, errors.New("invalid namespace attribute")
	}
	rec.Namespace = nsAttr.Value

	genAttr, ok := item["generation"].(*types.AttributeValueMemberN)
	if !ok {
		return rec, errors.New("invalid generation attribute")
	}
	gen, err := strconv.ParseUint(genAttr.Value, 10, 64)
	if err != nil {
		return rec, fmt.Errorf("parse generation: %w", err)
	}
	rec.Generation = gen

	if keyAttr, ok := item["artifact_key"].(*types.AttributeValueMemberS); ok {
		rec.ArtifactKey = keyAttr.Value
	}
	if atAttr, ok := item["committed_at"].(*types.AttributeValueMemberS); ok {
		if ts, err := time.Parse(time.RFC3339Nano, atAttr.Value); err == nil {
			rec.CommittedAt = ts
		}
	}

	return rec, nil
}
