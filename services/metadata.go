package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"mocha-rewards/models"
)

const maxMetadataBytes = 1 << 20

// MetadataFetcher resolves a token URI to its ERC-721 metadata JSON.
type MetadataFetcher struct {
	Client      *http.Client
	IPFSGateway string
}

func NewMetadataFetcher(client *http.Client) *MetadataFetcher {
	return &MetadataFetcher{Client: client, IPFSGateway: "https://ipfs.io/ipfs/"}
}

// Fetch returns the decoded metadata and its raw JSON. URIs with an unknown scheme
// yield (nil, nil, nil).
func (f *MetadataFetcher) Fetch(ctx context.Context, uri string) (*models.TokenMetadata, []byte, error) {
	raw, err := f.load(ctx, uri)
	if err != nil || raw == nil {
		return nil, nil, err
	}
	var md models.TokenMetadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, nil, fmt.Errorf("decode metadata from %.64s: %w", uri, err)
	}
	return &md, raw, nil
}

func (f *MetadataFetcher) load(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "data:application/json"):
		return decodeDataURI(uri)
	case strings.HasPrefix(uri, "ipfs://"):
		return f.get(ctx, f.IPFSGateway+strings.TrimPrefix(uri, "ipfs://"))
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return f.get(ctx, uri)
	}
	return nil, nil
}

func decodeDataURI(uri string) ([]byte, error) {
	header, payload, ok := strings.Cut(uri, ",")
	if !ok {
		return nil, fmt.Errorf("malformed data uri")
	}
	if strings.HasSuffix(header, ";base64") {
		return base64.StdEncoding.DecodeString(payload)
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return nil, err
	}
	return []byte(decoded), nil
}

func (f *MetadataFetcher) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("metadata host returned status %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
}
