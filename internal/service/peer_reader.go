package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/corebank/dualmount/internal/errors"
	"github.com/corebank/dualmount/internal/model"
)

// PeerReader polls another node's read endpoint, so a scenario can verify
// that bytes written here are visible from the other account. Content
// travels as a JSON string, which is fine for the text probes the
// validator writes.
type PeerReader struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewPeerReader creates a reader against baseURL, e.g. "http://corebank:8080".
func NewPeerReader(baseURL string, timeout time.Duration, logger *zap.Logger) *PeerReader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeerReader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type peerReadResponse struct {
	Success      bool   `json:"success"`
	Filename     string `json:"filename"`
	Content      string `json:"content"`
	SourceTarget string `json:"source_target"`
	BytesRead    int64  `json:"bytes_read"`
}

// Read fetches key through the peer, restricted to role when non-empty.
func (p *PeerReader) Read(ctx context.Context, key string, role model.Role) (*model.ReadResult, error) {
	endpoint := fmt.Sprintf("%s/read?filename=%s", p.baseURL, url.QueryEscape(key))
	if role != "" {
		endpoint += "&target=" + url.QueryEscape(string(role))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Internal("failed to build peer read request", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.IOError(fmt.Sprintf("peer read %s failed", key), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.NotFound(key)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.IOError(fmt.Sprintf("peer read %s: unexpected status %d", key, resp.StatusCode), nil)
	}

	var body peerReadResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.IOError(fmt.Sprintf("peer read %s: malformed response", key), err)
	}
	if !body.Success {
		return nil, errors.NotFound(key)
	}

	p.logger.Debug("Peer read succeeded",
		zap.String("key", key),
		zap.String("source_target", body.SourceTarget),
		zap.Int64("bytes", body.BytesRead))

	return &model.ReadResult{
		Key:          key,
		Content:      []byte(body.Content),
		SourceTarget: body.SourceTarget,
		BytesRead:    body.BytesRead,
	}, nil
}
