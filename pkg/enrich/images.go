package enrich

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/normalize"
)

// s3Putter is the slice of the S3 client the relocator needs.
type s3Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ImageRelocator downloads event images and rehosts them in object
// storage under a deterministic key, so re-runs of the same image are
// idempotent. Every failure here is non-fatal: an event without a
// rehosted image keeps its original URL.
type ImageRelocator struct {
	cfg    *config.ImagesConfig
	client *http.Client
	s3     s3Putter
}

// NewImageRelocator builds the relocator. Returns nil when no bucket is
// configured; callers treat a nil relocator as disabled.
func NewImageRelocator(ctx context.Context, cfg *config.ImagesConfig) (*ImageRelocator, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load object storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &ImageRelocator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.DownloadTimeout},
		s3:     client,
	}, nil
}

// Relocate downloads imageURL and uploads it to the bucket. Returns the
// rehosted URL, or the original on any failure. Tracking pixels and
// placeholders are dropped entirely.
func (r *ImageRelocator) Relocate(ctx context.Context, imageURL string) string {
	if imageURL == "" {
		return ""
	}
	if normalize.PlaceholderImage(imageURL) {
		return ""
	}
	if r == nil {
		return imageURL
	}

	body, contentType, err := r.download(ctx, imageURL)
	if err != nil {
		slog.Debug("Image download failed, keeping original URL",
			"url", imageURL, "error", err)
		return imageURL
	}

	key := r.objectKey(imageURL)
	_, err = r.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		slog.Warn("Image upload failed, keeping original URL",
			"url", imageURL, "key", key, "error", err)
		return imageURL
	}

	if r.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(r.cfg.Endpoint, "/"), r.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", r.cfg.Bucket, r.cfg.Region, key)
}

func (r *ImageRelocator) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image fetch returned %d", resp.StatusCode)
	}

	maxBytes := r.cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, "", err
	}
	if len(body) == 0 {
		return nil, "", fmt.Errorf("image fetch returned empty body")
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("unexpected content type %q", contentType)
	}
	return body, contentType, nil
}

// objectKey derives a deterministic key from the source URL, keeping the
// original extension when it has one.
func (r *ImageRelocator) objectKey(imageURL string) string {
	sum := sha256.Sum256([]byte(imageURL))
	name := hex.EncodeToString(sum[:16])

	ext := strings.ToLower(path.Ext(imageURL))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".avif":
	default:
		ext = ".jpg"
	}

	prefix := strings.Trim(r.cfg.KeyPrefix, "/")
	if prefix == "" {
		prefix = "events"
	}
	return prefix + "/" + name + ext
}
