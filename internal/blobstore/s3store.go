package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/blizztrack/scanner/internal/contenthash"
)

// S3Config configures the S3-compatible variant (spec.md §4.K). The
// session it builds uses path-style addressing and leaves payload signing
// and checksum validation at the SDK's defaults.
type S3Config struct {
	ServiceURL string
	AccessKey  string
	SecretKey  string
	BucketName string
	Region     string // defaults to "auto" for R2
}

// S3Store is the S3-compatible Store variant, grounded on the pack's
// s3manager upload pattern (Session + Uploader) rather than the v2 SDK.
type S3Store struct {
	bucket   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Store builds an S3Store from cfg.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String(region),
		Endpoint:         aws.String(cfg.ServiceURL),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
		// Keeps request URI paths exactly as built instead of letting the
		// SDK clean them; payload signing and checksum validation are not
		// changed by this session config.
		DisableRestProtocolURICleaning: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: creating s3 session: %w", err)
	}
	svc := s3.New(sess)
	return &S3Store{
		bucket:   cfg.BucketName,
		client:   svc,
		uploader: s3manager.NewUploaderWithClient(svc),
	}, nil
}

// Has reports whether hash's object exists via HeadObject.
func (s *S3Store) Has(ctx context.Context, hash contenthash.ContentHash) (bool, error) {
	key := Key(hash)
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("blobstore: heading %s: %w", key, err)
	}
	return true, nil
}

// Get fetches hash's object body and content-type.
func (s *S3Store) Get(ctx context.Context, hash contenthash.ContentHash) (io.ReadCloser, string, error) {
	key := Key(hash)
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("blobstore: getting %s: %w", key, err)
	}
	ct := ""
	if out.ContentType != nil {
		ct = *out.ContentType
	}
	return out.Body, ct, nil
}

// Save uploads body to hash's object key via the multipart-aware
// Uploader, matching the reference upload pattern this package is
// grounded on.
func (s *S3Store) Save(ctx context.Context, hash contenthash.ContentHash, contentType string, body io.Reader) error {
	key := Key(hash)
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("blobstore: uploading %s: %w", key, err)
	}
	return nil
}

// GetAllHashes lists every object in the bucket and parses its key back
// into a ContentHash (maintenance only, spec.md §4.K).
func (s *S3Store) GetAllHashes(ctx context.Context) (map[contenthash.ContentHash]struct{}, error) {
	out := make(map[contenthash.ContentHash]struct{})
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			hex := lastPathSegment(*obj.Key)
			ch, err := contenthash.Parse(hex)
			if err != nil {
				continue
			}
			out[ch] = struct{}{}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: listing bucket %s: %w", s.bucket, err)
	}
	return out, nil
}

func lastPathSegment(key string) string {
	if i := bytes.LastIndexByte([]byte(key), '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}

func isNotFound(err error) bool {
	if aerr, ok := err.(interface{ Code() string }); ok {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}

var _ Store = (*S3Store)(nil)
