// Package blobstore wraps the S3 client used to upload and download session
// transcripts (§6's upload endpoint, §4.5's download phase), extending the
// aws-sdk-go-v2 family already in the pack's dependency set (the Bedrock
// runtime client's configuration idiom) to the object-storage surface this
// spec actually needs.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// ErrNotFound is returned when a transcript key has no corresponding object.
var ErrNotFound = errors.New("blobstore: object not found")

// Config configures the S3-backed blob client.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // non-empty for S3-compatible stores (e.g. MinIO) in dev
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Client uploads and downloads transcript blobs.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds a Client from Config, falling back to the default AWS
// credential chain when AccessKeyID is unset.
func New(ctx context.Context, cfg Config) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Client{s3: client, bucket: cfg.Bucket}, nil
}

// Key derives a transcript's S3 object key from its workspace canonical id
// and session id (§6's upload endpoint: "key derived from the session's
// workspace canonical_id and session id"), matching the teacher's
// `<prefix>/<id>` layout convention extended with a workspace partition so
// transcripts from different workspaces never collide on session id reuse
// across canonical ids.
func Key(canonicalID, sessionID string) string {
	return fmt.Sprintf("transcripts/%s/%s.jsonl", slugify(canonicalID), sessionID)
}

// slugify replaces path-hostile characters in a canonical id (which is
// frequently a "host/org/repo"-shaped string, see internal/identity) so it
// can be used as an S3 key segment without introducing spurious "directory"
// nesting surprises beyond the one level this layout intends.
func slugify(s string) string {
	return strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(s)
}

// Upload stores a transcript blob under key.
func (c *Client) Upload(ctx context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read upload body: %w", err)
	}
	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("upload blob %s: %w", key, err)
	}
	return nil
}

// Download fetches a transcript blob in full (§4.5's download phase treats
// transcripts as bounded JSONL files, not streamed).
func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("download blob %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob body %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether a key is already present. The upload endpoint's
// `already_uploaded` check does not use it; it reads the session's
// transcript_s3_key instead.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
			return false, nil
		}
		return false, fmt.Errorf("head blob %s: %w", key, err)
	}
	return true, nil
}
