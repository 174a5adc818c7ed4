// Package license verifies entitlement codes against the remote verifier.
// Verification is a pure precondition check for the flows that require it.
package license

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"zalo-connector-go/internal/domain/account"
	"zalo-connector-go/internal/platform/errors"
	"zalo-connector-go/internal/platform/logging"
)

var (
	// ErrMissingCode reports an empty license code.
	ErrMissingCode = errors.New(errors.KindLicense, "verify",
		"license code is required, add it to the credential settings")
	// ErrInvalidCode reports a code the verifier rejected.
	ErrInvalidCode = errors.New(errors.KindLicense, "verify",
		"invalid license code, check the credential settings")
	// ErrExpiredCode reports a code past its expiry.
	ErrExpiredCode = errors.New(errors.KindLicense, "verify",
		"license code has expired, renew the license")
	// ErrCodeInUse reports a code already bound to another credential.
	ErrCodeInUse = errors.New(errors.KindLicense, "verify",
		"license code is already used by another credential")
)

// CacheConfig configures the optional redis cache of valid verdicts.
type CacheConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Verifier checks license codes against the verification endpoint, caching
// positive verdicts so repeated workflow runs do not hammer the verifier.
type Verifier struct {
	url    string
	http   *http.Client
	cache  *redis.Client
	prefix string
	ttl    time.Duration
	logger *logging.Logger
}

// NewVerifier creates a verifier without a cache.
func NewVerifier(url string, timeout time.Duration, logger *logging.Logger) *Verifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Verifier{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		prefix: "license:code:",
		ttl:    time.Hour,
		logger: logger,
	}
}

// WithCache attaches a redis cache for valid verdicts.
func (v *Verifier) WithCache(cfg CacheConfig) (*Verifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrap(errors.KindLicense, "cache.ping", "license cache unreachable", err)
	}
	v.cache = client
	if cfg.Prefix != "" {
		v.prefix = cfg.Prefix
	}
	if cfg.TTL > 0 {
		v.ttl = cfg.TTL
	}
	return v, nil
}

// Close releases the cache connection if one was attached.
func (v *Verifier) Close() error {
	if v.cache != nil {
		return v.cache.Close()
	}
	return nil
}

type verifyRequest struct {
	Code        string `json:"code"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type verifyResponse struct {
	Valid     bool  `json:"valid"`
	ExpiredAt int64 `json:"expired_at,omitempty"`
}

// Verify checks the code, optionally bound to the account's phone number.
// The phone number is normalized before submission.
func (v *Verifier) Verify(ctx context.Context, code, phoneNumber string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrMissingCode
	}
	phoneNumber = account.NormalizePhone(phoneNumber)

	if v.cachedValid(ctx, code) {
		return nil
	}

	payload, err := json.Marshal(verifyRequest{Code: code, PhoneNumber: phoneNumber})
	if err != nil {
		return errors.Wrap(errors.KindLicense, "verify", "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(errors.KindLicense, "verify", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return errors.Wrap(errors.KindLicense, "verify",
			"failed to reach the license verifier, check the network connection", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized:
		return ErrInvalidCode
	case http.StatusForbidden:
		return ErrCodeInUse
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.New(errors.KindLicense, "verify",
			"license verifier returned "+resp.Status+": "+strings.TrimSpace(string(detail)))
	}

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return errors.Wrap(errors.KindLicense, "verify", "decode response", err)
	}

	if !result.Valid {
		return ErrInvalidCode
	}
	if result.ExpiredAt != 0 && result.ExpiredAt < time.Now().Unix() {
		return ErrExpiredCode
	}

	v.cacheValid(ctx, code, result.ExpiredAt)
	return nil
}

func (v *Verifier) cachedValid(ctx context.Context, code string) bool {
	if v.cache == nil {
		return false
	}
	err := v.cache.Get(ctx, v.prefix+code).Err()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		v.logger.WarnTag("license", "cache lookup failed: %v", err)
		return false
	}
	return true
}

func (v *Verifier) cacheValid(ctx context.Context, code string, expiredAt int64) {
	if v.cache == nil {
		return
	}
	ttl := v.ttl
	if expiredAt != 0 {
		remaining := time.Until(time.Unix(expiredAt, 0))
		if remaining <= 0 {
			return
		}
		if remaining < ttl {
			ttl = remaining
		}
	}
	if err := v.cache.Set(ctx, v.prefix+code, "1", ttl).Err(); err != nil {
		v.logger.WarnTag("license", "cache store failed: %v", err)
	}
}
