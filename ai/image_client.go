package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-companion-demo/backend/pkg/logger"

	"github.com/hashicorp/go-retryablehttp"
)

const maxImageBytes = 20 << 20

var (
	errNoImage    = errors.New("image provider returned no images")
	errEmptyImage = errors.New("fetched image is empty")

	errImageTooLarge = fmt.Errorf("fetched image exceeds %d bytes", maxImageBytes)
)

// ImageClientConfig configures an ImageClient
type ImageClientConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	Size         string
	FetchRetries int
}

// ImageClient talks to an OpenAI-compatible image generation endpoint and
// downloads the generated image
type ImageClient struct {
	httpClient *http.Client
	fetcher    *retryablehttp.Client
	cfg        ImageClientConfig
	guard      *Guard
}

// NewImageClient creates a new image client. Provider deadlines come from
// the guard, so the HTTP clients carry no timeout of their own.
func NewImageClient(cfg ImageClientConfig, guard *Guard, log *logger.Logger) *ImageClient {
	if cfg.Size == "" {
		cfg.Size = "256x256"
	}
	if log == nil {
		log = logger.GetGlobal()
	}

	fetcher := retryablehttp.NewClient()
	fetcher.RetryMax = cfg.FetchRetries
	fetcher.RetryWaitMin = 200 * time.Millisecond
	fetcher.RetryWaitMax = 2 * time.Second
	fetcher.Logger = log.Logger

	return &ImageClient{
		httpClient: &http.Client{},
		fetcher:    fetcher,
		cfg:        cfg,
		guard:      guard,
	}
}

// Generate requests one image for prompt and returns its URL
func (c *ImageClient) Generate(ctx context.Context, prompt string) (string, error) {
	var url string
	err := c.guard.Do(ctx, "image generation", func(ctx context.Context) error {
		var err error
		url, err = c.generate(ctx, prompt)
		return err
	})
	return url, err
}

func (c *ImageClient) generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(imageRequest{
		Model:          c.cfg.Model,
		Prompt:         prompt,
		N:              1,
		Size:           c.cfg.Size,
		ResponseFormat: "url",
	})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/images/generations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body imageResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body)

	if resp.StatusCode >= 400 {
		if decodeErr == nil && body.Error != nil && body.Error.Message != "" {
			return "", fmt.Errorf("image api: %s: %s", resp.Status, body.Error.Message)
		}
		return "", fmt.Errorf("image api: %s", resp.Status)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode image response: %w", decodeErr)
	}
	if len(body.Data) == 0 || body.Data[0].URL == "" {
		return "", errNoImage
	}
	return body.Data[0].URL, nil
}

// FetchDataURI downloads url and encodes it as a base64 data URI
func (c *ImageClient) FetchDataURI(ctx context.Context, url string) (string, error) {
	var uri string
	err := c.guard.Do(ctx, "image fetch", func(ctx context.Context) error {
		var err error
		uri, err = c.fetch(ctx, url)
		return err
	})
	return uri, err
}

func (c *ImageClient) fetch(ctx context.Context, url string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.fetcher.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("image fetch: %s", resp.Status)
	}
	if resp.ContentLength > maxImageBytes {
		return "", errImageTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return "", errImageTooLarge
	}
	if len(data) == 0 {
		return "", errEmptyImage
	}

	return EncodeDataURI(data, resp.Header.Get("Content-Type")), nil
}

// EncodeDataURI returns data as data:<mime>;base64,<payload>. The declared
// content type wins when it names an image; otherwise it is sniffed, and
// anything unrecognised is labelled image/png.
func EncodeDataURI(data []byte, contentType string) string {
	mime := strings.TrimSpace(strings.Split(contentType, ";")[0])
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
		if !strings.HasPrefix(mime, "image/") {
			mime = "image/png"
		}
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
