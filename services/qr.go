package services

import (
	"context"
	"encoding/base64"
	"fmt"

	"mocha-rewards/models"

	"github.com/gosimple/slug"
	"github.com/skip2/go-qrcode"
)

// ImageStore persists a rendered image and returns the URL clients load it from.
type ImageStore interface {
	Put(ctx context.Context, key string, png []byte) (string, error)
}

// DataURLStore inlines the image as a data URL instead of uploading it.
type DataURLStore struct{}

func (DataURLStore) Put(_ context.Context, _ string, png []byte) (string, error) {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// QRGenerator renders a memory's QR code and stores the image.
type QRGenerator struct {
	Store ImageStore
	Size  int
}

func NewQRGenerator(store ImageStore) *QRGenerator {
	if store == nil {
		store = DataURLStore{}
	}
	return &QRGenerator{Store: store, Size: 300}
}

// Generate returns the QR content ("memory:<id>") and the stored image URL.
func (g *QRGenerator) Generate(ctx context.Context, memoryID, title string) (content, image string, err error) {
	content = models.QRContent(memoryID)
	png, err := qrcode.Encode(content, qrcode.Medium, g.Size)
	if err != nil {
		return "", "", fmt.Errorf("encode qr for %s: %w", memoryID, err)
	}

	name := slug.Make(title)
	if name == "" {
		name = "memory"
	}
	key := fmt.Sprintf("qr/%s-%s.png", name, memoryID)
	image, err = g.Store.Put(ctx, key, png)
	if err != nil {
		return "", "", fmt.Errorf("store qr for %s: %w", memoryID, err)
	}
	return content, image, nil
}
