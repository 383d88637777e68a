package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"time"

	"github.com/disintegration/imaging"
)

const (
	// maxImageSide bounds the longest edge sent to vision models.
	maxImageSide       = 1024
	defaultImageMaxLen = 8 << 20
	jpegQuality        = 85
)

// ImageFetcher downloads an attachment and re-encodes it as a bounded JPEG.
type ImageFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewImageFetcher creates a fetcher. maxBytes <= 0 uses 8 MiB.
func NewImageFetcher(client *http.Client, maxBytes int64) *ImageFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = defaultImageMaxLen
	}
	return &ImageFetcher{client: client, maxBytes: maxBytes}
}

// Fetch downloads url and returns it as base64 JPEG content.
func (f *ImageFetcher) Fetch(ctx context.Context, url string) (*ImageContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("image: create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		// Attachment URLs can embed bot tokens; keep them out of the error.
		var uerr *neturl.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("image: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Status: resp.StatusCode, Body: "image download"}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("image: read: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("image: larger than %d bytes", f.maxBytes)
	}
	return EncodeImage(data)
}

// EncodeImage decodes raw image bytes, fits them within 1024x1024 and
// re-encodes as JPEG.
func EncodeImage(data []byte) (*ImageContent, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("image: decode: %w", err)
	}

	b := img.Bounds()
	if b.Dx() > maxImageSide || b.Dy() > maxImageSide {
		img = imaging.Fit(img, maxImageSide, maxImageSide, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("image: encode: %w", err)
	}
	return &ImageContent{
		MimeType: "image/jpeg",
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}
