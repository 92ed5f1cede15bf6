package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pthm-cable/habitat/config"
	"github.com/pthm-cable/habitat/telemetry"
)

// Archive stores snapshot files by key. Keys use forward slashes.
type Archive interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// NewArchive builds the archive selected by cfg, or returns nil when
// archiving is disabled.
func NewArchive(ctx context.Context, cfg config.ArchiveConfig) (Archive, error) {
	switch cfg.Kind {
	case "":
		return nil, nil
	case "fs":
		a, err := NewFSArchive(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "s3":
		a, err := NewS3Archive(ctx, S3Config{
			Bucket:       cfg.Bucket,
			Prefix:       cfg.Prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			UsePathStyle: cfg.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, fmt.Errorf("unknown archive kind %q", cfg.Kind)
}

// ArchiveSnapshot compresses a snapshot into the archive under
// <game_id>/<snapshot name> and returns the key.
func ArchiveSnapshot(ctx context.Context, a Archive, snapshot *telemetry.Snapshot) (string, error) {
	var buf bytes.Buffer
	if err := telemetry.EncodeSnapshot(&buf, snapshot); err != nil {
		return "", err
	}
	key := path.Join(snapshot.GameID, telemetry.SnapshotName(snapshot))
	if err := a.Put(ctx, key, &buf); err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}
	return key, nil
}

// FetchSnapshot reads an archived snapshot.
func FetchSnapshot(ctx context.Context, a Archive, key string) (*telemetry.Snapshot, error) {
	rc, err := a.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return telemetry.DecodeSnapshot(rc)
}

// FSArchive keeps objects as files below a directory.
type FSArchive struct {
	dir string
}

// NewFSArchive creates dir if needed.
func NewFSArchive(dir string) (*FSArchive, error) {
	if dir == "" {
		return nil, errors.New("fs archive: dir required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("fs archive: %w", err)
	}
	return &FSArchive{dir: dir}, nil
}

func (a *FSArchive) path(key string) (string, error) {
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != key {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(a.dir, filepath.FromSlash(clean)), nil
}

// Put writes r to key, replacing an existing object atomically.
func (a *FSArchive) Put(_ context.Context, key string, r io.Reader) error {
	p, err := a.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Get opens key for reading.
func (a *FSArchive) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := a.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return f, err
}

// List returns the sorted keys starting with prefix.
func (a *FSArchive) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(a.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(a.dir, p)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// S3Config holds the parameters of an S3-compatible bucket.
type S3Config struct {
	Bucket       string
	Prefix       string // prepended to every key
	Region       string
	Endpoint     string // optional, e.g. a MinIO URL
	AccessKey    string // optional, falls back to the default credential chain
	SecretKey    string
	UsePathStyle bool
}

// S3Archive keeps objects in one bucket.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archive loads AWS config and builds a client. optFns adjust the
// client options, e.g. to swap the HTTP client.
func NewS3Archive(ctx context.Context, cfg S3Config, optFns ...func(*s3.Options)) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 archive: bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3 archive: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		for _, fn := range optFns {
			fn(o)
		}
	})
	return &S3Archive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *S3Archive) objectKey(key string) string {
	if a.prefix == "" {
		return key
	}
	return strings.TrimSuffix(a.prefix, "/") + "/" + key
}

// Put uploads r. The body is buffered so the request can be signed.
func (a *S3Archive) Put(ctx context.Context, key string, r io.Reader) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.objectKey(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/zstd"),
	})
	return err
}

// Get downloads key.
func (a *S3Archive) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(key)),
	})
	if err != nil {
		var re *awshttp.ResponseError
		if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, err
	}
	return out.Body, nil
}

// List returns the sorted keys, without the archive prefix, starting with
// prefix.
func (a *S3Archive) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(a.objectKey(prefix)),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if a.prefix != "" {
				key = strings.TrimPrefix(key, strings.TrimSuffix(a.prefix, "/")+"/")
			}
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
