package rankstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/vecshard/model"
)

// maxBatchWrite is the DynamoDB limit for BatchWriteItem requests.
const maxBatchWrite = 25

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	dynamodb.QueryAPIClient
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore keeps scores in a DynamoDB table.
//
// Table schema:
//   - Partition key: namespace (string)
//   - Sort key: shard (number)
//   - Attribute: score (number)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name vecshard-ranks \
//	  --attribute-definitions AttributeName=namespace,AttributeType=S AttributeName=shard,AttributeType=N \
//	  --key-schema AttributeName=namespace,KeyType=HASH AttributeName=shard,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
//
// Scores only grow over a tracker's life, so Save overwrites items and never
// deletes them.
type DynamoStore struct {
	client    DDBClient
	table     string
	namespace string
	pageSize  int32
	retries   int
}

// DynamoOption configures a DynamoStore.
type DynamoOption func(*DynamoStore)

// WithPageSize sets the Query page size.
func WithPageSize(n int32) DynamoOption {
	return func(s *DynamoStore) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithMaxRetries sets how often unprocessed batch items are resubmitted.
func WithMaxRetries(n int) DynamoOption {
	return func(s *DynamoStore) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// ErrUnprocessedItems is returned when DynamoDB keeps rejecting batch items.
var ErrUnprocessedItems = errors.New("rankstore: unprocessed items remain")

// NewDynamoStore creates a store writing to table under namespace.
func NewDynamoStore(client DDBClient, table, namespace string, optFns ...DynamoOption) *DynamoStore {
	s := &DynamoStore{
		client:    client,
		table:     table,
		namespace: namespace,
		pageSize:  100,
		retries:   5,
	}

	for _, fn := range optFns {
		fn(s)
	}

	return s
}

// Load implements Store.
func (s *DynamoStore) Load(ctx context.Context) (map[model.ShardID]float64, error) {
	scores := make(map[model.ShardID]float64)

	p := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("#ns = :ns"),
		ExpressionAttributeNames: map[string]string{
			"#ns": "namespace",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ns": &types.AttributeValueMemberS{Value: s.namespace},
		},
		Limit: aws.Int32(s.pageSize),
	})

	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("rankstore: query: %w", err)
		}

		for _, item := range page.Items {
			id, score, err := decodeItem(item)
			if err != nil {
				return nil, err
			}

			scores[id] = score
		}
	}

	return scores, nil
}

// Save implements Store.
func (s *DynamoStore) Save(ctx context.Context, scores map[model.ShardID]float64) error {
	ids := make([]model.ShardID, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}

	model.SortShardIDs(ids)

	for start := 0; start < len(ids); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(ids))

		reqs := make([]types.WriteRequest, 0, end-start)
		for _, id := range ids[start:end] {
			reqs = append(reqs, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: s.encodeItem(id, scores[id])},
			})
		}

		if err := s.writeBatch(ctx, reqs); err != nil {
			return err
		}
	}

	return nil
}

func (s *DynamoStore) writeBatch(ctx context.Context, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.table: reqs}

	for attempt := 0; attempt <= s.retries; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("rankstore: batch write: %w", err)
		}

		if len(out.UnprocessedItems[s.table]) == 0 {
			return nil
		}

		pending = out.UnprocessedItems
	}

	return ErrUnprocessedItems
}

// Close implements Store. The client is owned by the caller.
func (s *DynamoStore) Close() error { return nil }

func (s *DynamoStore) encodeItem(id model.ShardID, score float64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"namespace": &types.AttributeValueMemberS{Value: s.namespace},
		"shard":     &types.AttributeValueMemberN{Value: strconv.Itoa(int(id))},
		"score":     &types.AttributeValueMemberN{Value: strconv.FormatFloat(score, 'g', -1, 64)},
	}
}

func decodeItem(item map[string]types.AttributeValue) (model.ShardID, float64, error) {
	shardAttr, ok := item["shard"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, 0, errors.New("rankstore: invalid shard attribute in DynamoDB")
	}

	scoreAttr, ok := item["score"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, 0, errors.New("rankstore: invalid score attribute in DynamoDB")
	}

	id, err := strconv.Atoi(shardAttr.Value)
	if err != nil {
		return 0, 0, fmt.Errorf("rankstore: parse shard: %w", err)
	}

	score, err := strconv.ParseFloat(scoreAttr.Value, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("rankstore: parse score: %w", err)
	}

	return model.ShardID(id), score, nil
}
