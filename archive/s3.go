package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goliatone/go-payhooks/core"
)

// ObjectPutter is the part of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Record is the archived form of one dead-lettered job.
type Record struct {
	JobID          string          `json:"job_id"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	AttemptCount   int             `json:"attempt_count"`
	FailureKind    string          `json:"failure_kind,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	DeadLetteredAt *time.Time      `json:"dead_lettered_at,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	RawPayload     []byte          `json:"raw_payload,omitempty"`
	ArchivedAt     time.Time       `json:"archived_at"`
}

// S3Archiver writes dead-lettered jobs to a bucket before retention removes them.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

type Option func(*S3Archiver)

func WithPrefix(prefix string) Option {
	return func(a *S3Archiver) {
		a.prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *S3Archiver) {
		if now != nil {
			a.now = now
		}
	}
}

func NewS3Archiver(client ObjectPutter, bucket string, opts ...Option) (*S3Archiver, error) {
	if client == nil {
		return nil, fmt.Errorf("archive: s3 client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	a := &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(core.DefaultConfig().Archive.Prefix, "/"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// NewS3ArchiverFromConfig loads AWS configuration and returns nil when no
// bucket is configured.
func NewS3ArchiverFromConfig(ctx context.Context, cfg core.ArchiveConfig) (*S3Archiver, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, nil
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Archiver(client, cfg.Bucket, WithPrefix(cfg.Prefix))
}

func (a *S3Archiver) Archive(ctx context.Context, job core.QueuedJob) error {
	if a == nil || a.client == nil {
		return fmt.Errorf("archive: archiver is not configured")
	}
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("archive: job id is required")
	}
	now := a.now().UTC()
	body, err := json.Marshal(newRecord(job, now))
	if err != nil {
		return fmt.Errorf("archive: encode job %s: %w", job.ID, err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(job)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"event-id":   job.EventID,
			"event-type": job.EventType,
		},
	})
	if err != nil {
		return core.Transient(err, "archive: put dead letter "+job.ID)
	}
	return nil
}

// Key groups archived jobs by the day they were dead-lettered.
func (a *S3Archiver) Key(job core.QueuedJob) string {
	day := job.UpdatedAt
	if job.DeadLetteredAt != nil {
		day = *job.DeadLetteredAt
	}
	if day.IsZero() {
		day = a.now()
	}
	return path.Join(a.prefix, day.UTC().Format("2006/01/02"), job.ID+".json")
}

func newRecord(job core.QueuedJob, now time.Time) Record {
	record := Record{
		JobID:          job.ID,
		EventID:        job.EventID,
		EventType:      job.EventType,
		AttemptCount:   job.AttemptCount,
		FailureKind:    string(job.FailureKind),
		LastError:      job.LastError,
		EnqueuedAt:     job.EnqueuedAt.UTC(),
		DeadLetteredAt: job.DeadLetteredAt,
		ArchivedAt:     now,
	}
	if json.Valid(job.Payload) {
		record.Payload = append(json.RawMessage(nil), job.Payload...)
	} else if len(job.Payload) > 0 {
		record.RawPayload = append([]byte(nil), job.Payload...)
	}
	return record
}

var _ core.ArchiveSink = (*S3Archiver)(nil)
