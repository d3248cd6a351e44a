// Package archive stores the code of every deployment attempt and repair
// in an S3-compatible bucket so failed runs can be inspected later.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/itsbakr/weave-tutor/pkg/debug"
	"github.com/itsbakr/weave-tutor/pkg/deploy"
	"github.com/itsbakr/weave-tutor/pkg/observability"
)

// ObjectStore is the subset of *minio.Client used by the Archiver.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

var _ ObjectStore = (*minio.Client)(nil)

// Archiver is a deploy.Observer that uploads attempt and repair snapshots.
// Upload failures are logged and never affect the deployment.
type Archiver struct {
	store   ObjectStore
	bucket  string
	prefix  string
	timeout time.Duration
	nowFn   func() time.Time
}

var _ deploy.Observer = (*Archiver)(nil)

// New creates an Archiver and makes sure the bucket exists.
func New(ctx context.Context, store ObjectStore, cfg Config) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	if err := ensureBucket(ctx, store, cfg.Bucket, region); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}
	timeout := cfg.UploadTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Archiver{
		store:   store,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		timeout: timeout,
		nowFn:   time.Now,
	}, nil
}

func ensureBucket(ctx context.Context, store ObjectStore, bucket, region string) error {
	exists, err := store.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return store.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

// AttemptCompleted uploads the attempt's code, plus its error excerpt when
// the attempt failed.
func (a *Archiver) AttemptCompleted(ctx context.Context, dc deploy.Context, at deploy.Attempt) {
	meta := map[string]string{
		"attempt": fmt.Sprint(at.Number),
		"outcome": string(at.Outcome),
		"topic":   dc.Topic,
	}
	if at.Category != "" {
		meta["category"] = string(at.Category)
	}
	base := a.key(dc, fmt.Sprintf("attempt-%d", at.Number))
	a.put(ctx, base+".jsx", "text/javascript", at.Code, meta)
	if at.Outcome.Failed() && at.ErrorExcerpt != "" {
		a.put(ctx, base+".log", "text/plain", at.ErrorExcerpt, meta)
	}
}

// RepairCompleted uploads the repaired code when the repair changed it.
func (a *Archiver) RepairCompleted(ctx context.Context, dc deploy.Context, ev deploy.RepairEvent) {
	if !ev.Changed() {
		return
	}
	meta := map[string]string{
		"attempt":  fmt.Sprint(ev.Attempt),
		"category": string(ev.Category),
		"topic":    dc.Topic,
	}
	a.put(ctx, a.key(dc, fmt.Sprintf("repair-%d", ev.Attempt))+".jsx", "text/javascript", ev.RepairedCode, meta)
}

// key builds "<prefix>/<session>/<date>/<name>-<unix ms>".
func (a *Archiver) key(dc deploy.Context, name string) string {
	session := dc.SessionKey
	if session == "" {
		session = "demo"
	}
	session = strings.NewReplacer("/", "_", " ", "_").Replace(session)
	now := a.nowFn().UTC()
	k := fmt.Sprintf("%s/%s/%s-%d", session, now.Format("2006-01-02"), name, now.UnixMilli())
	if a.prefix != "" {
		k = a.prefix + "/" + k
	}
	return k
}

func (a *Archiver) put(ctx context.Context, key, contentType, body string, meta map[string]string) {
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	_, err := a.store.PutObject(putCtx, a.bucket, key, strings.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType, UserMetadata: meta})
	if err != nil {
		observability.ArchiveUploadsTotal.WithLabelValues("error").Inc()
		slog.Warn("archive upload failed", "bucket", a.bucket, "key", key, "error", err)
		return
	}
	observability.ArchiveUploadsTotal.WithLabelValues("ok").Inc()
	debug.Log("archive", "snapshot uploaded", "key", key, "bytes", len(body))
}
