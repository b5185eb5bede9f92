// Package kyc calls the external identity-verification service. The
// service compares an id document against a selfie and answers with a
// match verdict; everything else about it is a black box.
package kyc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

type Client struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewClient(endpoint string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
}

// Verify posts the two images and returns the match verdict. A
// timeout, transport error or non-200 answer all mean "no match",
// never a failure of the calling request.
func (c *Client) Verify(ctx context.Context, idCard, selfie io.Reader) bool {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := writePart(mw, "id_card", "id_card.jpg", idCard); err != nil {
		c.logger.Warn("kyc request build failed", "error", err)
		return false
	}
	if err := writePart(mw, "selfie", "selfie.jpg", selfie); err != nil {
		c.logger.Warn("kyc request build failed", "error", err)
		return false
	}
	if err := mw.Close(); err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/verify-identity/", &body)
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("kyc service unreachable", "error", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("kyc service error", "status", resp.StatusCode)
		return false
	}

	var out struct {
		Verified bool `json:"verified"`
		Match    bool `json:"match"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}
	return out.Verified || out.Match
}

func writePart(mw *multipart.Writer, field, filename string, r io.Reader) error {
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, r)
	return err
}
