package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ignite/inboxbench/internal/domain"
)

// dynamoBatchLimit is the BatchWriteItem request cap.
const dynamoBatchLimit = 25

const dynamoUnprocessedRetries = 3

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// dynamoItem is a snapshot row keyed WS#<workspace> / ACCOUNT#<id>. Sort
// keys share a prefix, so a partition query returns rows ordered by id.
type dynamoItem struct {
	PK            string   `dynamodbav:"PK"`
	SK            string   `dynamodbav:"SK"`
	Email         string   `dynamodbav:"Email"`
	Status        string   `dynamodbav:"Status"`
	Tags          []string `dynamodbav:"Tags"`
	WarmupScore   int      `dynamodbav:"WarmupScore"`
	DailyLimit    int      `dynamodbav:"DailyLimit"`
	LastUpdatedAt string   `dynamodbav:"LastUpdatedAt"`
}

const (
	workspacePrefix = "WS#"
	accountPrefix   = "ACCOUNT#"
)

func toDynamoItem(r domain.SnapshotRow) dynamoItem {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return dynamoItem{
		PK:            workspacePrefix + r.Workspace,
		SK:            accountPrefix + r.ID,
		Email:         r.Email,
		Status:        string(r.Status),
		Tags:          tags,
		WarmupScore:   r.WarmupScore,
		DailyLimit:    r.DailyLimit,
		LastUpdatedAt: r.LastUpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (it dynamoItem) row() domain.SnapshotRow {
	at, _ := time.Parse(time.RFC3339, it.LastUpdatedAt)
	return domain.SnapshotRow{
		Workspace:     strings.TrimPrefix(it.PK, workspacePrefix),
		ID:            strings.TrimPrefix(it.SK, accountPrefix),
		Email:         it.Email,
		Status:        domain.Status(it.Status),
		Tags:          it.Tags,
		WarmupScore:   it.WarmupScore,
		DailyLimit:    it.DailyLimit,
		LastUpdatedAt: at,
	}
}

// DynamoStore keeps snapshot rows in a single DynamoDB table with a
// PK/SK string key schema.
type DynamoStore struct {
	client DynamoAPI
	table  string
}

func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	if table == "" {
		table = DefaultTable
	}
	return &DynamoStore{client: client, table: table}
}

// NewDynamoStoreFromConfig builds the client from the default credential chain.
func NewDynamoStoreFromConfig(ctx context.Context, table, region, profile string) (*DynamoStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for snapshot store: %w", err)
	}
	return NewDynamoStore(dynamodb.NewFromConfig(cfg), table), nil
}

// Upsert writes rows in BatchWriteItem chunks. PutRequest replaces any
// existing item with the same key. Unprocessed items are resubmitted a few
// times before the call fails.
func (s *DynamoStore) Upsert(ctx context.Context, rows []domain.SnapshotRow) error {
	for start := 0; start < len(rows); start += dynamoBatchLimit {
		end := start + dynamoBatchLimit
		if end > len(rows) {
			end = len(rows)
		}
		writes := make([]types.WriteRequest, 0, end-start)
		for _, r := range rows[start:end] {
			av, err := attributevalue.MarshalMap(toDynamoItem(r))
			if err != nil {
				return fmt.Errorf("marshaling row %s: %w", r.ID, err)
			}
			writes = append(writes, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
		}
		if err := s.batchWrite(ctx, writes); err != nil {
			return err
		}
	}
	return nil
}

func (s *DynamoStore) batchWrite(ctx context.Context, writes []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.table: writes}
	for attempt := 0; attempt <= dynamoUnprocessedRetries; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("DynamoDB BatchWriteItem: %w", err)
		}
		if len(out.UnprocessedItems[s.table]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
	}
	return fmt.Errorf("DynamoDB BatchWriteItem: %d items still unprocessed", len(pending[s.table]))
}

func (s *DynamoStore) SendingVolume(ctx context.Context, workspace string) (int, error) {
	rows, err := s.ListByStatus(ctx, workspace, domain.StatusSending)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, r := range rows {
		total += r.DailyLimit
	}
	return total, nil
}

func (s *DynamoStore) ListByStatus(ctx context.Context, workspace string, status domain.Status) ([]domain.SnapshotRow, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: workspacePrefix + workspace},
		},
	}
	if status != "" {
		in.FilterExpression = aws.String("#st = :status")
		in.ExpressionAttributeNames = map[string]string{"#st": "Status"}
		in.ExpressionAttributeValues[":status"] = &types.AttributeValueMemberS{Value: string(status)}
	}

	var rows []domain.SnapshotRow
	for {
		out, err := s.client.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("querying DynamoDB: %w", err)
		}
		for _, av := range out.Items {
			var it dynamoItem
			if err := attributevalue.UnmarshalMap(av, &it); err != nil {
				return nil, fmt.Errorf("unmarshaling snapshot item: %w", err)
			}
			rows = append(rows, it.row())
		}
		if len(out.LastEvaluatedKey) == 0 {
			return rows, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
