package lake

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/desertthunder/dwh/internal/shared"
	"golang.org/x/time/rate"
)

// Store reads and writes objects under a root, addressed by slash-separated keys.
type Store interface {
	// List returns keys matching pattern, where each * matches within a single path segment.
	List(ctx context.Context, pattern string) ([]string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, body io.Reader) error
	// URI returns the absolute location of key.
	URI(key string) string
}

// IsS3URI reports whether uri names an S3 location (s3:// or s3a://).
func IsS3URI(uri string) bool {
	return strings.HasPrefix(uri, "s3://") || strings.HasPrefix(uri, "s3a://")
}

// ParseS3URI splits an s3:// or s3a:// URI into bucket and key prefix.
func ParseS3URI(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		rest, ok = strings.CutPrefix(uri, "s3a://")
	}
	if !ok {
		return "", "", fmt.Errorf("%w: not an S3 URI: %q", shared.ErrInvalidInput, uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: missing bucket in %q", shared.ErrInvalidInput, uri)
	}
	return bucket, prefix, nil
}

// LocalStore is a [Store] over a filesystem directory.
type LocalStore struct {
	Root string
}

func (s LocalStore) List(_ context.Context, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.Root, filepath.FromSlash(pattern)))
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q: %w", shared.ErrInvalidInput, pattern, err)
	}

	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(s.Root, m)
		if err != nil {
			return nil, err
		}
		keys = append(keys, filepath.ToSlash(rel))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.Root, filepath.FromSlash(key)))
}

func (s LocalStore) Put(_ context.Context, key string, body io.Reader) error {
	dest := filepath.Join(s.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return f.Close()
}

func (s LocalStore) URI(key string) string {
	return filepath.Join(s.Root, filepath.FromSlash(key))
}

// S3API is the subset of the S3 client used by [S3Store].
type S3API interface {
	s3.ListObjectsV2APIClient
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// S3Store is a [Store] over a bucket prefix. Uploads go through the multipart uploader.
type S3Store struct {
	client   S3API
	uploader *manager.Uploader
	limiter  *rate.Limiter
	bucket   string
	prefix   string
}

// NewS3Store creates an [S3Store] rooted at uri. uploadRate caps uploads per second; zero means unlimited.
func NewS3Store(client S3API, uri string, uploadRate float64) (*S3Store, error) {
	bucket, prefix, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	s := &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}
	if uploadRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(uploadRate), 1)
	}
	return s, nil
}

// literalPrefix returns the part of pattern before its first wildcard, cut back to a segment boundary.
func literalPrefix(pattern string) string {
	i := strings.IndexAny(pattern, "*?[\\")
	if i < 0 {
		return pattern
	}
	lit := pattern[:i]
	if j := strings.LastIndex(lit, "/"); j >= 0 {
		return lit[:j+1]
	}
	return ""
}

func (s *S3Store) List(ctx context.Context, pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q: %w", shared.ErrInvalidInput, pattern, err)
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + literalPrefix(pattern)),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, s.prefix, err)
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if ok, _ := path.Match(pattern, rel); ok {
				keys = append(keys, rel)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", s.URI(key), err)
	}
	return out.Body, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body io.Reader) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
		Body:   body,
	}); err != nil {
		return fmt.Errorf("failed to upload %s: %w", s.URI(key), err)
	}
	return nil
}

// URI always uses the s3:// scheme, which EMR steps and COPY both accept.
func (s *S3Store) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s%s", s.bucket, s.prefix, key)
}
