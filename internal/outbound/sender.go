// Package outbound submits chat messages to the relay.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatlink/pkg/types"
)

// Sender posts messages to POST /message.
type Sender struct {
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

// NewSender targets the relay at serverURL. Each request is bounded by
// timeout.
func NewSender(serverURL string, timeout time.Duration, log *zap.Logger) (*Sender, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, errors.Errorf("outbound: invalid server URL %q", serverURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + types.PathMessage
	u.RawQuery = ""

	if log == nil {
		log = zap.NewNop()
	}
	return &Sender{
		endpoint: u.String(),
		client:   &http.Client{Timeout: timeout},
		log:      log.Named("sender"),
	}, nil
}

// Send submits text on behalf of clientID. Blank text is rejected before
// any request is made.
func (s *Sender) Send(ctx context.Context, clientID types.ClientID, text string) error {
	if err := clientID.Validate(); err != nil {
		return err
	}
	if err := types.ValidateText(text); err != nil {
		return err
	}

	body, err := json.Marshal(types.OutboundRequest{Message: text})
	if err != nil {
		return errors.Wrap(err, "encode message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(types.HeaderClientID, clientID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("send failed", zap.String("client_id", clientID.String()), zap.Error(err))
		return errors.Wrap(err, "send message")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		s.log.Warn("send rejected", zap.String("client_id", clientID.String()), zap.Int("status", resp.StatusCode))
		return errors.Wrapf(ErrUnexpectedStatus, "status %d", resp.StatusCode)
	}
	return nil
}
