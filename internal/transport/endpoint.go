package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"chatlink/pkg/types"
)

// ParseServerURL validates the relay base URL shared by all strategies.
func ParseServerURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidServerURL, "%q: %v", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Wrapf(ErrInvalidServerURL, "%q", raw)
	}
	return u, nil
}

// resolve joins path onto base, keeping any path prefix base carries.
func resolve(base *url.URL, path string) *url.URL {
	u := *base
	u.Path = strings.TrimRight(base.Path, "/") + path
	u.RawQuery = ""
	u.Fragment = ""
	return &u
}

// fetchMessage issues one GET against a poll endpoint. A 204 or a 200 with
// an empty body yields ok=false and no error.
func fetchMessage(ctx context.Context, client *http.Client, target string, clientID types.ClientID) (types.WireMessage, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return types.WireMessage{}, false, errors.Wrap(err, "build poll request")
	}
	req.Header.Set(types.HeaderClientID, clientID.String())

	resp, err := client.Do(req)
	if err != nil {
		return types.WireMessage{}, false, errors.Wrap(err, "poll request")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var msg types.WireMessage
		if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
			if err == io.EOF {
				return types.WireMessage{}, false, nil
			}
			return types.WireMessage{}, false, errors.Wrapf(ErrMalformedMessage, "decode: %v", err)
		}
		if msg.IsZero() {
			return types.WireMessage{}, false, nil
		}
		return msg, true, nil
	case http.StatusNoContent:
		_, _ = io.Copy(io.Discard, resp.Body)
		return types.WireMessage{}, false, nil
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return types.WireMessage{}, false, errors.Wrapf(ErrUnexpectedStatus, "%s %d", target, resp.StatusCode)
	}
}
