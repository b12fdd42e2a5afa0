// Package vision reads receipts with Google Cloud Vision document text
// detection.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gvision "google.golang.org/api/vision/v1"

	"zerosum/internal/ocr"
)

const featureDocumentText = "DOCUMENT_TEXT_DETECTION"

// Client implements ocr.Scanner.
type Client struct {
	svc *gvision.Service
}

var _ ocr.Scanner = (*Client)(nil)

// Credentials selects how the client authenticates. JSON wins over File;
// with neither, application default credentials are used.
type Credentials struct {
	JSON string
	File string
}

// New creates a Vision client.
func New(ctx context.Context, creds Credentials) (*Client, error) {
	var opts []goption.ClientOption
	switch {
	case strings.TrimSpace(creds.JSON) != "":
		slog.InfoContext(ctx, "Using inline Vision credentials")
		opts = append(opts, goption.WithCredentialsJSON([]byte(creds.JSON)))
	case strings.TrimSpace(creds.File) != "":
		data, err := os.ReadFile(creds.File)
		if err != nil {
			return nil, fmt.Errorf("read vision credentials file: %w", err)
		}
		slog.InfoContext(ctx, "Using Vision credentials file", "path", creds.File)
		opts = append(opts, goption.WithCredentialsJSON(data))
	default:
		slog.InfoContext(ctx, "Using application default credentials for Vision")
	}
	opts = append(opts, goption.WithScopes(gvision.CloudVisionScope))

	svc, err := gvision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create vision service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// Scan runs document text detection on image and parses the text.
func (c *Client) Scan(ctx context.Context, image []byte, categories []string) (ocr.Receipt, error) {
	req := &gvision.BatchAnnotateImagesRequest{
		Requests: []*gvision.AnnotateImageRequest{{
			Image:    &gvision.Image{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []*gvision.Feature{{Type: featureDocumentText}},
		}},
	}
	resp, err := c.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ocr.Receipt{}, ocr.NewError(ocr.CodeTimeout, err)
		}
		return ocr.Receipt{}, ocr.NewError(ocr.CodeServerError, err)
	}
	if len(resp.Responses) == 0 {
		return ocr.Receipt{}, ocr.NewError(ocr.CodeServerError, errors.New("empty annotate response"))
	}
	r := resp.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		return ocr.Receipt{}, ocr.NewError(ocr.CodeUnscannable, fmt.Errorf("vision status %d: %s", r.Error.Code, r.Error.Message))
	}
	text := ""
	if r.FullTextAnnotation != nil {
		text = r.FullTextAnnotation.Text
	}
	return ParseReceipt(text, categories)
}
