// Package archive stores sweep and batch reports as JSON objects in S3 so
// operators can audit what each run changed.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "github.com/ignite/recruit-cdp/internal/config"
)

// Report kinds used in object keys.
const (
	KindPending    = "process-pending"
	KindSegments   = "evaluate-segments"
	KindAudiences  = "sync-audiences"
	KindSharePoint = "sync-sharepoint"
)

// ObjectAPI is the slice of the S3 client the archive uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Archive writes reports under <prefix>/<kind>/<yyyy>/<mm>/<dd>/.
type Archive struct {
	api    ObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

// New creates an S3-backed archive.
func New(ctx context.Context, cfg appconfig.ArchiveConfig) (*Archive, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.S3Region)}
	if profile := cfg.GetAWSProfile(); profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewWithAPI(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.Prefix), nil
}

// NewWithAPI wraps an existing S3 client.
func NewWithAPI(api ObjectAPI, bucket, prefix string) *Archive {
	return &Archive{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/"), now: time.Now}
}

// Save writes one report and returns its object key.
func (a *Archive) Save(ctx context.Context, kind string, report any) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling report: %w", err)
	}

	now := a.now().UTC()
	key := fmt.Sprintf("%s/%s/%s/%s-%s.json",
		a.prefix, kind, now.Format("2006/01/02"), now.Format("150405"), uuid.NewString())
	key = strings.TrimPrefix(key, "/")

	_, err = a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("putting object to S3 bucket %s: %w", a.bucket, err)
	}
	return key, nil
}

// Load reads a report back into dst.
func (a *Archive) Load(ctx context.Context, key string, dst any) error {
	out, err := a.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("getting object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("reading object %s: %w", key, err)
	}
	return json.Unmarshal(data, dst)
}

// Ping checks that the bucket is reachable. Used by health checks.
func (a *Archive) Ping(ctx context.Context) error {
	if hb, ok := a.api.(interface {
		HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	}); ok {
		_, err := hb.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
		return err
	}
	return nil
}
