package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"AsmrPipeline/internal/domain"
	"AsmrPipeline/internal/ports"
)

// YouTubeClient uploads finished artifacts to a YouTube-compatible upload
// endpoint with a pre-issued bearer token.
type YouTubeClient struct {
	endpoint string
	token    string
	category string
	client   *http.Client
	logger   *slog.Logger
}

var _ ports.Publisher = (*YouTubeClient)(nil)

// NewYouTubeClient registers the endpoint and its credential.
func NewYouTubeClient(endpoint, token, category string, logger *slog.Logger) *YouTubeClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &YouTubeClient{
		endpoint: endpoint,
		token:    token,
		category: category,
		client:   &http.Client{Timeout: 5 * time.Minute},
		logger:   logger,
	}
}

// Publish posts the artifact with its metadata and returns the published id.
func (c *YouTubeClient) Publish(ctx context.Context, artifact domain.Artifact, meta domain.VideoMetadata) (string, error) {
	if c.endpoint == "" || c.token == "" {
		return "", domain.Permanentf("publisher misconfigured: endpoint and token required")
	}

	body, contentType, err := buildUploadBody(artifact, meta, c.category)
	if err != nil {
		return "", domain.Permanentf("build upload body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return "", domain.Permanentf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", domain.Transientf("upload request: %v", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", classifyStatus(resp.StatusCode, resp.Status, payload)
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil || parsed.ID == "" {
		return "", domain.Permanentf("upload response missing id: %s", strings.TrimSpace(string(payload)))
	}

	c.logger.Info("artifact uploaded", "published_id", parsed.ID, "checksum", artifact.Checksum)
	return parsed.ID, nil
}

// classifyStatus maps upload failures onto the retry taxonomy. Daily quota
// exhaustion is permanent for the run; the next scheduled slot tries again.
func classifyStatus(code int, status string, payload []byte) error {
	detail := strings.TrimSpace(string(payload))

	switch {
	case code == http.StatusForbidden && strings.Contains(detail, "quotaExceeded"):
		return domain.Permanentf("upload quota exhausted: %s", status)
	case code == http.StatusRequestTimeout,
		code == http.StatusTooManyRequests,
		code >= http.StatusInternalServerError:
		return domain.Transientf("upload failed %s: %s", status, detail)
	default:
		return domain.Permanentf("upload rejected %s: %s", status, detail)
	}
}

// buildUploadBody assembles the two-part upload: JSON metadata, then media.
func buildUploadBody(artifact domain.Artifact, meta domain.VideoMetadata, category string) (io.Reader, string, error) {
	snippet := map[string]any{
		"snippet": map[string]any{
			"title":       meta.Title,
			"description": meta.Description,
			"tags":        meta.Tags,
			"categoryId":  category,
		},
		"status": map[string]any{
			"privacyStatus":           meta.Privacy,
			"selfDeclaredMadeForKids": false,
		},
	}

	metadata, err := json.Marshal(snippet)
	if err != nil {
		return nil, "", fmt.Errorf("marshal metadata: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	metaPart, err := writer.CreatePart(map[string][]string{
		"Content-Type": {"application/json; charset=UTF-8"},
	})
	if err != nil {
		return nil, "", fmt.Errorf("create metadata part: %w", err)
	}
	if _, err := metaPart.Write(metadata); err != nil {
		return nil, "", fmt.Errorf("write metadata part: %w", err)
	}

	mediaPart, err := writer.CreatePart(map[string][]string{
		"Content-Type": {"video/mp4"},
	})
	if err != nil {
		return nil, "", fmt.Errorf("create media part: %w", err)
	}

	file, err := os.Open(artifact.FileRef)
	if err != nil {
		return nil, "", fmt.Errorf("open artifact %s: %w", artifact.FileRef, err)
	}
	defer file.Close()

	if _, err := io.Copy(mediaPart, file); err != nil {
		return nil, "", fmt.Errorf("copy artifact: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}

	contentType := strings.Replace(writer.FormDataContentType(), "multipart/form-data", "multipart/related", 1)
	return &buf, contentType, nil
}
