package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUploadFailed is returned when the store did not accept the object
var ErrUploadFailed = errors.New("object upload failed")

// Client stores objects in one bucket of an S3-style HTTP object store
type Client struct {
	http   *resty.Client
	bucket string
}

// New creates a client for bucket at baseURL
func New(baseURL, bucket string, timeout time.Duration) *Client {
	return &Client{
		http:   resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
		bucket: bucket,
	}
}

// Put uploads content under key, overwriting any previous object
func (c *Client) Put(ctx context.Context, key, contentType string, content []byte) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(content).
		Put("/" + c.bucket + "/" + strings.TrimPrefix(key, "/"))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUploadFailed, key, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: %s: status %d", ErrUploadFailed, key, resp.StatusCode())
	}
	return nil
}
