package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestR2Store_URLPrefersCDN(t *testing.T) {
	store, err := NewR2Store(context.Background(), R2Settings{
		AccountID:       "acct",
		AccessKeyID:     "key",
		AccessKeySecret: "secret",
		Bucket:          "bucket",
		CDNBaseURL:      "https://cdn.example.com/",
	})
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/qr/a.png", store.URL("/qr/a.png"))
}

func TestR2Store_URLFallsBackToAccountEndpoint(t *testing.T) {
	store, err := NewR2Store(context.Background(), R2Settings{
		AccountID:       "acct",
		AccessKeyID:     "key",
		AccessKeySecret: "secret",
		Bucket:          "bucket",
	})
	require.NoError(t, err)
	require.Equal(t, "https://acct.r2.cloudflarestorage.com/qr/a.png", store.URL("qr/a.png"))
}

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient(3 * time.Second)
	require.Equal(t, 3*time.Second, c.Timeout)
	require.NotNil(t, HTTPClient)
}
