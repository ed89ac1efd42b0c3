// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// R2Settings are the Cloudflare R2 credentials and public URL base.
type R2Settings struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
}

// R2Store uploads objects to an R2 bucket. It satisfies services.ImageStore.
type R2Store struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

func NewR2Store(ctx context.Context, s R2Settings) (*R2Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.AccessKeyID, s.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", s.AccountID)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &R2Store{client: client, bucket: s.Bucket, baseURL: publicBaseURL(s)}, nil
}

func publicBaseURL(s R2Settings) string {
	if s.CDNBaseURL != "" {
		return strings.TrimRight(s.CDNBaseURL, "/")
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", s.AccountID)
}

// Put uploads a PNG under key and returns its public URL.
func (r *R2Store) Put(ctx context.Context, key string, png []byte) (string, error) {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(png),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return r.URL(key), nil
}

// URL is the public URL of key (the CDN base when configured).
func (r *R2Store) URL(key string) string {
	return fmt.Sprintf("%s/%s", r.baseURL, strings.TrimLeft(key, "/"))
}
