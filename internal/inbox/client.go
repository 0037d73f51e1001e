// internal/inbox/client.go
package inbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
)

// Client delivers inbound messages to a peer agent's ingress. Used by the
// notify action kind.
type Client struct {
	httpClient *http.Client
	secret     []byte
	issuer     string
}

// NewClient builds a client for the given shared secret. The issuer names the
// sending agent and lands in the token's iss claim.
func NewClient(issuer, secret string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		secret:     []byte(secret),
		issuer:     issuer,
	}
}

// Send posts a message to the peer ingress at addr (host:port).
func (c *Client) Send(ctx context.Context, addr string, msg schemas.InboundMessage) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": c.issuer,
		"iat": jwt.NewNumericDate(time.Now()),
		"exp": jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	url := fmt.Sprintf("http://%s/v1/inbox", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signed)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("peer rejected message: status %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}
