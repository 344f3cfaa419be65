package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loomline/api/internal/platform/requestctx"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultClockSkew       = 5 * time.Minute
	maxWebhookBody         = 1 << 20
)

var (
	ErrSignatureMissing  = errors.New("auth: webhook signature missing")
	ErrSignatureInvalid  = errors.New("auth: webhook signature invalid")
	ErrSignatureExpired  = errors.New("auth: webhook signature outside tolerance")
	ErrSignatureReplayed = errors.New("auth: webhook signature already used")
)

// WebhookVerifier authenticates payment provider callbacks. The signature header has the form
// "t=<unix seconds>,v1=<hex hmac-sha256>" computed over "<t>.<raw body>".
type WebhookVerifier struct {
	secret []byte
	header string
	skew   time.Duration
	nonces NonceStore
	now    func() time.Time
}

// WebhookOption customises a WebhookVerifier.
type WebhookOption func(*WebhookVerifier)

func WithSignatureHeader(name string) WebhookOption {
	return func(v *WebhookVerifier) {
		if name = strings.TrimSpace(name); name != "" {
			v.header = name
		}
	}
}

func WithClockSkew(d time.Duration) WebhookOption {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.skew = d
		}
	}
}

func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(v *WebhookVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewWebhookVerifier builds a verifier. A nil nonce store disables replay rejection.
func NewWebhookVerifier(secret string, nonces NonceStore, opts ...WebhookOption) (*WebhookVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: webhook signing secret is required")
	}
	v := &WebhookVerifier{
		secret: []byte(secret),
		header: defaultSignatureHeader,
		skew:   defaultClockSkew,
		nonces: nonces,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Sign returns the header value for body at ts. Used by tests and local tooling.
func (v *WebhookVerifier) Sign(body []byte, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + unix + ",v1=" + hex.EncodeToString(v.mac(unix, body))
}

// Verify checks header against body and consumes the signature so it cannot be replayed.
func (v *WebhookVerifier) Verify(ctx context.Context, header string, body []byte) error {
	ts, sig, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}
	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrSignatureInvalid)
	}
	age := v.now().Sub(time.Unix(issued, 0))
	if age > v.skew || age < -v.skew {
		return ErrSignatureExpired
	}
	if !hmac.Equal(sig, v.mac(ts, body)) {
		return ErrSignatureInvalid
	}
	if v.nonces == nil {
		return nil
	}
	fresh, err := v.nonces.Claim(ctx, hex.EncodeToString(sig), 2*v.skew)
	if err != nil {
		return fmt.Errorf("auth: record webhook signature: %w", err)
	}
	if !fresh {
		return ErrSignatureReplayed
	}
	return nil
}

// Require rejects requests whose body is not signed by the provider.
func (v *WebhookVerifier) Require() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			if err != nil {
				writeAuthError(ctx, w, http.StatusBadRequest, "invalid_request", "unable to read request body")
				return
			}
			if err := v.Verify(ctx, r.Header.Get(v.header), body); err != nil {
				requestctx.Logger(ctx).Warn("webhook signature rejected", zap.Error(err))
				switch {
				case errors.Is(err, ErrSignatureReplayed):
					writeAuthError(ctx, w, http.StatusConflict, "signature_replayed", "webhook already processed")
				case errors.Is(err, ErrSignatureInvalid), errors.Is(err, ErrSignatureMissing), errors.Is(err, ErrSignatureExpired):
					writeAuthError(ctx, w, http.StatusUnauthorized, "invalid_signature", "webhook signature verification failed")
				default:
					writeAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "webhook verification unavailable")
				}
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

func (v *WebhookVerifier) mac(ts string, body []byte) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(ts))
	h.Write([]byte{'.'})
	h.Write(body)
	return h.Sum(nil)
}

func parseSignatureHeader(header string) (string, []byte, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", nil, ErrSignatureMissing
	}
	var ts, sigHex string
	for _, part := range strings.Split(header, ",") {
		key, value, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch key {
		case "t":
			ts = value
		case "v1":
			sigHex = value
		}
	}
	if ts == "" || sigHex == "" {
		return "", nil, fmt.Errorf("%w: malformed header", ErrSignatureInvalid)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != sha256.Size {
		return "", nil, fmt.Errorf("%w: malformed digest", ErrSignatureInvalid)
	}
	return ts, sig, nil
}
