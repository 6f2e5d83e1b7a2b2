package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"ctxcore/internal/store"
)

// S3Config configures the S3-backed PageStore. Static credentials are
// optional; when empty, the default AWS credential chain applies.
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string // non-empty for MinIO / S3-compatible services
	UsePathStyle bool
	AccessKey    string
	SecretKey    string
}

// S3Store implements store.PageStore over an S3 (or S3-compatible)
// bucket: one object per page at <prefix>/<sessionID>/pages/<page_id>.json.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store builds an S3Store from configuration.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("persistence: s3 bucket is required")
	}

	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("persistence: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
	}, nil
}

func (s *S3Store) key(sessionID, pageID string) string {
	k := fmt.Sprintf("%s/pages/%s.json", sessionID, pageID)
	if s.prefix == "" {
		return k
	}
	return s.prefix + "/" + k
}

func (s *S3Store) pagesPrefix(sessionID string) string {
	p := sessionID + "/pages/"
	if s.prefix == "" {
		return p
	}
	return s.prefix + "/" + p
}

func (s *S3Store) SavePage(ctx context.Context, sessionID string, p store.Page) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("persistence: marshal page %s: %w", p.ID, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(sessionID, p.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("persistence: s3 put page %s: %w", p.ID, err)
	}
	return nil
}

func (s *S3Store) LoadPage(ctx context.Context, sessionID, pageID string) (store.Page, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sessionID, pageID)),
	})
	if err != nil {
		return store.Page{}, fmt.Errorf("persistence: s3 get page %s: %w", pageID, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return store.Page{}, fmt.Errorf("persistence: read page %s: %w", pageID, err)
	}
	var p store.Page
	if err := json.Unmarshal(data, &p); err != nil {
		return store.Page{}, fmt.Errorf("persistence: decode page %s: %w", pageID, err)
	}
	return p, nil
}

func (s *S3Store) DeletePage(ctx context.Context, sessionID, pageID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sessionID, pageID)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("persistence: s3 delete page %s: %w", pageID, err)
	}
	return nil
}

func (s *S3Store) ListPageIDs(ctx context.Context, sessionID string) ([]string, error) {
	prefix := s.pagesPrefix(sessionID)
	var ids []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("persistence: s3 list pages: %w", err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, prefix)
			name = strings.TrimSuffix(name, ".json")
			if name != "" {
				ids = append(ids, name)
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return ids, nil
}

// S3 objects carry a server-recorded LastModified time, but it reflects
// upload time, not semantic content change, and S3 offers no cheap
// equivalent to a filesystem mtime check against a point-in-time
// reference; the batch re-summarizer's freshness re-check (retrieval.
// StatProvider) is deliberately left unimplemented here and degrades to
// a no-op for this backend.

func isS3NotFound(err error) bool {
	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey) ||
		strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey")
}
