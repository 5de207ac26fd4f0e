// Package storage uploads analysed images so history entries can link to
// them.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/franckalain/foodlens/internal/imaging"
)

// Store persists an image and returns the URL it can be fetched from. An
// empty URL means the image was not kept.
type Store interface {
	Put(ctx context.Context, name string, p *imaging.Payload) (string, error)
}

// Options selects and configures a Store.
type Options struct {
	Type      string // "none", "local" or "s3"
	Dir       string
	Bucket    string
	Region    string
	PublicURL string
}

// New builds the configured store.
func New(ctx context.Context, opts Options, log zerolog.Logger) (Store, error) {
	log = log.With().Str("component", "storage").Str("type", opts.Type).Logger()
	switch opts.Type {
	case "", "none":
		return None{}, nil
	case "local":
		return NewLocalStore(opts.Dir, log)
	case "s3":
		return NewS3Store(ctx, opts, log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", opts.Type)
	}
}

// None discards images.
type None struct{}

// Put does nothing and returns an empty URL.
func (None) Put(ctx context.Context, name string, p *imaging.Payload) (string, error) {
	return "", nil
}

// objectKey builds a unique key such as "analyses/<name>-<nanos>.jpg".
func objectKey(name string, p *imaging.Payload, now time.Time) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "image"
	}
	return fmt.Sprintf("analyses/%s-%d%s", base, now.UnixNano(), imaging.Extension(p.MIMEType))
}

// LocalStore writes images under a directory.
type LocalStore struct {
	dir string
	log zerolog.Logger
	now func() time.Time
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string, log zerolog.Logger) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("local storage requires a directory")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStore{dir: abs, log: log, now: time.Now}, nil
}

// Put writes the payload and returns a file:// URL.
func (s *LocalStore) Put(ctx context.Context, name string, p *imaging.Payload) (string, error) {
	if p.Size() == 0 {
		return "", imaging.ErrEmptyImage
	}
	key := objectKey(name, p, s.now())
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, p.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	s.log.Debug().Str("path", path).Msg("Image stored")
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(), nil
}

// PutObjectAPI is the part of the S3 client the store uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads images to a bucket.
type S3Store struct {
	client    PutObjectAPI
	bucket    string
	publicURL string
	log       zerolog.Logger
	now       func() time.Time
}

// NewS3Store loads AWS credentials from the default chain.
func NewS3Store(ctx context.Context, opts Options, log zerolog.Logger) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 storage requires a bucket")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config for S3: %w", err)
	}

	publicURL := opts.PublicURL
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, cfg.Region)
	}
	return NewS3StoreWithClient(s3.NewFromConfig(cfg), opts.Bucket, publicURL, log), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client PutObjectAPI, bucket, publicURL string, log zerolog.Logger) *S3Store {
	return &S3Store{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		log:       log,
		now:       time.Now,
	}
}

// Put uploads the payload and returns its public URL.
func (s *S3Store) Put(ctx context.Context, name string, p *imaging.Payload) (string, error) {
	if p.Size() == 0 {
		return "", imaging.ErrEmptyImage
	}
	key := objectKey(name, p, s.now())
	mimeType := p.MIMEType
	if mimeType == "" {
		mimeType = imaging.MIMEJPEG
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(p.Data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	s.log.Debug().Str("bucket", s.bucket).Str("key", key).Msg("Image uploaded")
	return s.publicURL + "/" + key, nil
}
