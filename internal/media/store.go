package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/vedran77/pulsechat/internal/domain"
)

var ErrUnsupportedType = errors.New("unsupported media type")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base objects are served from; defaults to the endpoint.
	PublicURL string
}

// Store keeps uploaded media in an S3-compatible bucket and hands back a
// stable URL. Messages only ever store that URL.
type Store struct {
	client *minio.Client
	bucket string
	base   *url.URL
}

func NewStore(cfg Config) (*Store, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	base := cl.EndpointURL()
	if cfg.PublicURL != "" {
		if base, err = url.Parse(cfg.PublicURL); err != nil {
			return nil, fmt.Errorf("media public url: %w", err)
		}
	}
	return &Store{client: cl, bucket: cfg.Bucket, base: base}, nil
}

func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return err
	}
	policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, s.bucket)
	return s.client.SetBucketPolicy(ctx, s.bucket, policy)
}

// Put stores r under a fresh key in owner's prefix and returns its URL.
func (s *Store) Put(ctx context.Context, owner uuid.UUID, contentType string, r io.Reader, size int64) (string, error) {
	key := ObjectKey(owner, contentType, time.Now())
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("storing %s: %w", key, err)
	}

	u := *s.base
	u.Path = path.Join(u.Path, s.bucket, key)
	return u.String(), nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// ObjectKey lays objects out as <owner>/<yyyy>/<mm>/<uuid><ext>.
func ObjectKey(owner uuid.UUID, contentType string, at time.Time) string {
	ext := ""
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		ext = exts[0]
	}
	return fmt.Sprintf("%s/%s/%s%s", owner, at.UTC().Format("2006/01"), uuid.New(), ext)
}

// KindOf maps a sniffed content type onto the message type it produces.
func KindOf(contentType string) (domain.MessageType, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", ErrUnsupportedType
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return domain.MessageTypeImage, nil
	case strings.HasPrefix(mediaType, "video/"):
		return domain.MessageTypeVideo, nil
	default:
		return "", ErrUnsupportedType
	}
}
