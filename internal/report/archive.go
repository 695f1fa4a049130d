package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/redis/go-redis/v9"
)

// ErrNoReport is returned when a workspace has no archived report.
var ErrNoReport = errors.New("no report archived")

// Archive stores the latest rendered report per workspace.
type Archive interface {
	Save(ctx context.Context, workspace, html string, at time.Time) error
	Latest(ctx context.Context, workspace string) (string, error)
}

// MemoryArchive keeps reports in process.
type MemoryArchive struct {
	mu      sync.RWMutex
	reports map[string]string
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{reports: make(map[string]string)}
}

func (a *MemoryArchive) Save(ctx context.Context, workspace, html string, at time.Time) error {
	a.mu.Lock()
	a.reports[workspace] = html
	a.mu.Unlock()
	return nil
}

func (a *MemoryArchive) Latest(ctx context.Context, workspace string) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	html, ok := a.reports[workspace]
	if !ok {
		return "", ErrNoReport
	}
	return html, nil
}

// RedisArchive keeps the latest report plus dated copies in Redis.
type RedisArchive struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisArchive creates an archive. Dated copies expire after retention.
func NewRedisArchive(client *redis.Client, retention time.Duration) *RedisArchive {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RedisArchive{client: client, prefix: "inboxbench:report:", retention: retention}
}

func (a *RedisArchive) key(workspace, suffix string) string {
	return a.prefix + workspace + ":" + suffix
}

func (a *RedisArchive) Save(ctx context.Context, workspace, html string, at time.Time) error {
	pipe := a.client.TxPipeline()
	pipe.Set(ctx, a.key(workspace, "latest"), html, 0)
	pipe.Set(ctx, a.key(workspace, at.UTC().Format("2006-01-02")), html, a.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis archive save: %w", err)
	}
	return nil
}

func (a *RedisArchive) Latest(ctx context.Context, workspace string) (string, error) {
	html, err := a.client.Get(ctx, a.key(workspace, "latest")).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoReport
	}
	if err != nil {
		return "", fmt.Errorf("redis archive latest: %w", err)
	}
	return html, nil
}

// S3API is the subset of the S3 client the archive uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Archive writes reports/<workspace>/latest.html and a dated copy.
type S3Archive struct {
	client S3API
	bucket string
}

func NewS3Archive(client S3API, bucket string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket}
}

// NewS3ArchiveFromConfig builds the S3 client from the default credential
// chain, optionally pinned to a shared-config profile.
func NewS3ArchiveFromConfig(ctx context.Context, bucket, region, profile string) (*S3Archive, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for report archive: %w", err)
	}
	return NewS3Archive(s3.NewFromConfig(cfg), bucket), nil
}

func s3Key(workspace, name string) string {
	return fmt.Sprintf("reports/%s/%s.html", workspace, name)
}

func (a *S3Archive) Save(ctx context.Context, workspace, html string, at time.Time) error {
	for _, name := range []string{"latest", at.UTC().Format("2006-01-02")} {
		key := s3Key(workspace, name)
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        strings.NewReader(html),
			ContentType: aws.String("text/html; charset=utf-8"),
		})
		if err != nil {
			return fmt.Errorf("S3 PutObject %s/%s: %w", a.bucket, key, err)
		}
	}
	return nil
}

func (a *S3Archive) Latest(ctx context.Context, workspace string) (string, error) {
	key := s3Key(workspace, "latest")
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *s3types.NoSuchKey
		if errors.As(err, &missing) {
			return "", ErrNoReport
		}
		return "", fmt.Errorf("S3 GetObject %s/%s: %w", a.bucket, key, err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("reading S3 object body: %w", err)
	}
	return string(body), nil
}
