// internal/inbox/ingress.go
package inbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
	"github.com/xkilldash9x/custodian-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes caps inbound message bodies.
const maxBodyBytes = 1 << 20

// Ingress is the authenticated HTTP listener through which peer agents
// deliver inbound messages. Requests carry an HS256 bearer token signed with
// the shared inbox secret.
type Ingress struct {
	logger *zap.Logger
	inbox  *Inbox
	secret []byte
	server *http.Server
	addr   string
}

// NewIngress builds the listener. It does not start serving until Start is
// called.
func NewIngress(logger *zap.Logger, box *Inbox, cfg config.InboxConfig) (*Ingress, error) {
	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("inbox.auth_secret is required when the ingress listener is enabled")
	}

	g := &Ingress{
		logger: logger.Named("inbox_ingress"),
		inbox:  box,
		secret: []byte(cfg.AuthSecret),
		addr:   cfg.ListenAddr,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/inbox", g.handleInbox)
	g.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return g, nil
}

// Start binds the listen address and serves in a background goroutine.
func (g *Ingress) Start() error {
	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("failed to bind inbox ingress on %s: %w", g.addr, err)
	}
	g.addr = ln.Addr().String()
	g.logger.Info("Inbox ingress listening", zap.String("addr", g.addr))

	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("Inbox ingress server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound listen address. Only valid after Start.
func (g *Ingress) Addr() string { return g.addr }

// Shutdown drains in-flight requests and stops the listener.
func (g *Ingress) Shutdown(ctx context.Context) error {
	return g.server.Shutdown(ctx)
}

func (g *Ingress) handleInbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := g.authenticate(r); err != nil {
		g.logger.Warn("Rejected unauthenticated inbox request",
			zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var msg schemas.InboundMessage
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&msg); err != nil {
		http.Error(w, "malformed message body", http.StatusBadRequest)
		return
	}
	if msg.Type == "" || msg.SourceRef == "" {
		http.Error(w, "type and source_reference are required", http.StatusBadRequest)
		return
	}

	if err := g.inbox.Enqueue(msg); err != nil {
		if errors.Is(err, ErrInboxFull) {
			http.Error(w, "inbox full", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// authenticate verifies the HS256 bearer token on the request.
func (g *Ingress) authenticate(r *http.Request) error {
	auth := r.Header.Get("Authorization")
	tokenStr, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || tokenStr == "" {
		return fmt.Errorf("missing bearer token")
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("token validation failed")
	}
	return nil
}
