package snapshot

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ignite/inboxbench/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo is an in-memory table. It leaves the first item of the first
// batch unprocessed once and pages queries pageSize items at a time.
type fakeDynamo struct {
	items       map[string]map[string]types.AttributeValue
	batchCalls  int
	queryCalls  int
	pageSize    int
	dropOnce    bool
	failQueries error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue), pageSize: 2}
}

func attrS(av map[string]types.AttributeValue, name string) string {
	if s, ok := av[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamo) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.batchCalls++
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, writes := range in.RequestItems {
		for i, w := range writes {
			if f.dropOnce && i == 0 {
				f.dropOnce = false
				out.UnprocessedItems[table] = append(out.UnprocessedItems[table], w)
				continue
			}
			item := w.PutRequest.Item
			f.items[attrS(item, "PK")+"|"+attrS(item, "SK")] = item
		}
	}
	return out, nil
}

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryCalls++
	if f.failQueries != nil {
		return nil, f.failQueries
	}
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	var keys []string
	for k, item := range f.items {
		if attrS(item, "PK") == pk {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ExclusiveStartKey != nil {
		after := attrS(in.ExclusiveStartKey, "PK") + "|" + attrS(in.ExclusiveStartKey, "SK")
		start = sort.SearchStrings(keys, after) + 1
	}
	end := start + f.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	out := &dynamodb.QueryOutput{}
	for _, k := range keys[start:end] {
		item := f.items[k]
		if in.FilterExpression != nil {
			want := in.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS).Value
			if attrS(item, "Status") != want {
				continue
			}
		}
		out.Items = append(out.Items, item)
	}
	if end < len(keys) {
		last := f.items[keys[end-1]]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": last["PK"], "SK": last["SK"]}
	}
	return out, nil
}

func TestDynamoStore_RoundTrip(t *testing.T) {
	fake := newFakeDynamo()
	store := NewDynamoStore(fake, "snapshots")
	at := time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC)

	rows := []domain.SnapshotRow{
		{Workspace: "acme", ID: "c", Email: "c@example.com", Status: domain.StatusSending, Tags: []string{"sending"}, WarmupScore: 99, DailyLimit: 40, LastUpdatedAt: at},
		{Workspace: "acme", ID: "a", Email: "a@example.com", Status: domain.StatusSick, WarmupScore: 40, DailyLimit: 30, LastUpdatedAt: at},
		{Workspace: "acme", ID: "b", Email: "b@example.com", Status: domain.StatusSending, DailyLimit: 25, LastUpdatedAt: at},
		{Workspace: "other", ID: "z", Email: "z@example.com", Status: domain.StatusSending, DailyLimit: 500, LastUpdatedAt: at},
	}
	require.NoError(t, store.Upsert(context.Background(), rows))

	all, err := store.ListByStatus(context.Background(), "acme", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, rows[1], domain.SnapshotRow{
		Workspace: all[0].Workspace, ID: all[0].ID, Email: all[0].Email, Status: all[0].Status,
		WarmupScore: all[0].WarmupScore, DailyLimit: all[0].DailyLimit, LastUpdatedAt: all[0].LastUpdatedAt,
	})
	assert.Equal(t, []string{"sending"}, all[2].Tags)
	assert.Equal(t, 2, fake.queryCalls, "three items page in twos")

	volume, err := store.SendingVolume(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 65, volume)
}

func TestDynamoStore_UpsertReplaces(t *testing.T) {
	fake := newFakeDynamo()
	store := NewDynamoStore(fake, "")
	row := domain.SnapshotRow{Workspace: "acme", ID: "a", Status: domain.StatusSending, DailyLimit: 30}
	require.NoError(t, store.Upsert(context.Background(), []domain.SnapshotRow{row}))

	row.Status = domain.StatusBench
	require.NoError(t, store.Upsert(context.Background(), []domain.SnapshotRow{row}))

	assert.Len(t, fake.items, 1)
	sending, err := store.SendingVolume(context.Background(), "acme")
	require.NoError(t, err)
	assert.Zero(t, sending)
}

func TestDynamoStore_ChunksAndResubmitsUnprocessed(t *testing.T) {
	fake := newFakeDynamo()
	fake.dropOnce = true
	store := NewDynamoStore(fake, "snapshots")

	rows := make([]domain.SnapshotRow, 30)
	for i := range rows {
		rows[i] = domain.SnapshotRow{Workspace: "acme", ID: string(rune('a'+i%26)) + string(rune('a'+i/26)), Status: domain.StatusBench}
	}
	require.NoError(t, store.Upsert(context.Background(), rows))

	assert.Len(t, fake.items, 30)
	assert.Equal(t, 3, fake.batchCalls, "25 + resubmitted 1 + 5")
}

func TestDynamoStore_QueryError(t *testing.T) {
	fake := newFakeDynamo()
	fake.failQueries = errors.New("throttled")
	_, err := NewDynamoStore(fake, "snapshots").SendingVolume(context.Background(), "acme")
	assert.ErrorContains(t, err, "throttled")
}

func TestDynamoItem_KeySchema(t *testing.T) {
	av, err := attributevalue.MarshalMap(toDynamoItem(domain.SnapshotRow{Workspace: "acme", ID: "42"}))
	require.NoError(t, err)
	assert.Equal(t, "WS#acme", attrS(av, "PK"))
	assert.Equal(t, "ACCOUNT#42", attrS(av, "SK"))
}
