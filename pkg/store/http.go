package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v5"

	xe "github.com/Baizx98/PaGraph/pkg/errors"
)

// FetchRequest and FetchResponse are the wire types of the HTTP store API.
type FetchRequest struct {
	IDs []int64 `json:"ids"`
}

type FetchResponse struct {
	Rows [][]float32 `json:"rows"`
}

// HTTPClient talks to the store server of cmd/pagraph-store.
type HTTPClient struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTPClient builds a client for the store at base (e.g.
// "http://127.0.0.1:8117"). When secret is non-empty, a bearer token signed
// with it is attached to every request.
func NewHTTPClient(base, secret string) (*HTTPClient, error) {
	c := &HTTPClient{base: base, client: &http.Client{}}
	if secret != "" {
		token, err := SignToken(secret)
		if err != nil {
			return nil, err
		}
		c.token = token
	}
	return c, nil
}

// SignToken issues the bearer token trainers present to the store.
func SignToken(secret string) (string, error) {
	claims := jwt.MapClaims{
		"sub": "trainer",
		"iat": time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", xe.Wrap(err)
	}
	return token, nil
}

func (c *HTTPClient) Fetch(ctx context.Context, name string, ids []int64) ([][]float32, error) {
	body, err := sonic.Marshal(FetchRequest{IDs: ids})
	if err != nil {
		return nil, xe.Wrap(err)
	}

	url := fmt.Sprintf("%s/api/features/%s", c.base, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, xe.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, xe.WrapWithNote("feature store unreachable", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, xe.Wrap(fmt.Errorf(
			"feature store answered %d: %s", resp.StatusCode, bytes.TrimSpace(payload),
		))
	}

	var parsed FetchResponse
	if err := sonic.Unmarshal(payload, &parsed); err != nil {
		return nil, xe.Wrap(err)
	}
	return parsed.Rows, nil
}

func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
