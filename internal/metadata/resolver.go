// Package metadata resolves token metadata URIs into structured records.
//
// Four URI classes are understood, checked in this order: base64 data URIs,
// inline JSON documents, ipfs:// pointers (rewritten to an HTTP gateway) and
// plain HTTP(S) URLs. Resolution never fails loudly: callers get nil and the
// failure is logged.
package metadata

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"nft-market-sync/internal/domain"
	"nft-market-sync/internal/observability"
)

// Default resolver settings.
const (
	DefaultIPFSGateway  = "https://ipfs.io"
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 250 * time.Millisecond
	DefaultMaxBodyBytes = 1 << 20
)

// Metadata is the parsed token metadata document.
type Metadata struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Image       string             `json:"image"`
	Attributes  []domain.Attribute `json:"attributes"`
}

// FetchError describes a failure to resolve or parse a metadata URI.
type FetchError struct {
	URI    string
	Status int // HTTP status when the failure came from the response
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("metadata %s: status %d: %v", truncate(e.URI), e.Status, e.Err)
	}
	return fmt.Sprintf("metadata %s: %v", truncate(e.URI), e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

var (
	errBodyTooLarge = errors.New("response body exceeds limit")
	errBadStatus    = errors.New("unexpected status")
)

// Options configures a Resolver.
type Options struct {
	IPFSGateway  string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	MaxBodyBytes int64
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Resolver fetches and parses metadata documents.
type Resolver struct {
	gateway      string
	maxRetries   int
	retryDelay   time.Duration
	maxBodyBytes int64
	client       *http.Client
	logger       *zap.Logger
}

// NewResolver creates a resolver. Zero option values fall back to defaults.
func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		gateway:      strings.TrimRight(opts.IPFSGateway, "/"),
		maxRetries:   opts.MaxRetries,
		retryDelay:   opts.RetryDelay,
		maxBodyBytes: opts.MaxBodyBytes,
		client:       opts.HTTPClient,
		logger:       opts.Logger,
	}
	if r.gateway == "" {
		r.gateway = DefaultIPFSGateway
	}
	if r.maxRetries <= 0 {
		r.maxRetries = DefaultMaxRetries
	}
	if r.retryDelay <= 0 {
		r.retryDelay = DefaultRetryDelay
	}
	if r.maxBodyBytes <= 0 {
		r.maxBodyBytes = DefaultMaxBodyBytes
	}
	if r.client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		r.client = &http.Client{Timeout: timeout}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Resolve returns the metadata behind uri, or nil if it cannot be resolved.
// Failures are logged at warn level and never returned.
func (r *Resolver) Resolve(ctx context.Context, uri string) *Metadata {
	md, err := r.Fetch(ctx, uri)
	if err != nil {
		observability.RecordMetadataFetch("failed")
		if ctx.Err() == nil {
			r.logger.Warn("metadata resolution failed", zap.String("uri", truncate(uri)), zap.Error(err))
		}
		return nil
	}
	observability.RecordMetadataFetch("ok")
	return md
}

// Fetch resolves uri and returns a *FetchError on failure.
func (r *Resolver) Fetch(ctx context.Context, uri string) (*Metadata, error) {
	trimmed := strings.TrimSpace(uri)
	if trimmed == "" {
		return nil, &FetchError{URI: uri, Err: errors.New("empty uri")}
	}

	var (
		body []byte
		err  error
	)
	switch {
	case hasPrefixFold(trimmed, "data:"):
		body, err = decodeDataURI(trimmed)
	case strings.HasPrefix(trimmed, "{"):
		body = []byte(trimmed)
	case hasPrefixFold(trimmed, "ipfs://"):
		var target string
		target, err = r.gatewayURL(trimmed)
		if err == nil {
			body, err = r.get(ctx, target)
		}
	default:
		body, err = r.get(ctx, trimmed)
	}
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			fe.URI = uri
			return nil, fe
		}
		return nil, &FetchError{URI: uri, Err: err}
	}

	md, err := parse(body)
	if err != nil {
		return nil, &FetchError{URI: uri, Err: err}
	}
	return md, nil
}

// gatewayURL rewrites an ipfs:// URI to the configured HTTP gateway.
func (r *Resolver) gatewayURL(uri string) (string, error) {
	path := uri[len("ipfs://"):]
	path = strings.TrimPrefix(path, "ipfs/")
	if path == "" {
		return "", errors.New("empty ipfs path")
	}
	cid := path
	if i := strings.IndexAny(cid, "/?#"); i >= 0 {
		cid = cid[:i]
	}
	// The gateway has the final word; a malformed CIDv0 is only noted.
	if err := ValidateCID(cid); err != nil {
		r.logger.Debug("ipfs uri with malformed cid", zap.String("uri", truncate(uri)), zap.Error(err))
	}
	return r.gateway + "/ipfs/" + path, nil
}

// get fetches target with bounded exponential backoff. Transport errors, 429
// and 5xx are retried; everything else fails immediately.
func (r *Resolver) get(ctx context.Context, target string) ([]byte, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("unsupported uri scheme")
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retryDelay
	policy.MaxElapsedTime = 0

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			ferr := &FetchError{URI: target, Status: resp.StatusCode, Err: errBadStatus}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return ferr
			}
			return backoff.Permanent(ferr)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBodyBytes+1))
		if err != nil {
			return err
		}
		if int64(len(data)) > r.maxBodyBytes {
			return backoff.Permanent(errBodyTooLarge)
		}
		body = data
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.maxRetries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return body, nil
}

// decodeDataURI returns the payload of a data: URI.
func decodeDataURI(uri string) ([]byte, error) {
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, errors.New("malformed data uri")
	}
	header := strings.ToLower(uri[len("data:"):comma])
	payload := uri[comma+1:]

	if !strings.HasSuffix(header, ";base64") {
		text, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("unescape data uri: %w", err)
		}
		return []byte(text), nil
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(payload); err == nil {
			return decoded, nil
		}
	}
	return nil, errors.New("invalid base64 payload")
}

// parse decodes a metadata document. Non-string text fields are ignored and
// an attributes field that is not an array becomes an empty slice. Array
// elements are kept one for one, however they are shaped.
func parse(body []byte) (*Metadata, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse metadata json: %w", err)
	}

	md := &Metadata{
		Name:        stringField(doc, "name"),
		Description: stringField(doc, "description"),
		Image:       stringField(doc, "image"),
		Attributes:  []domain.Attribute{},
	}

	if raw, ok := doc["attributes"]; ok {
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err == nil {
			md.Attributes = make([]domain.Attribute, 0, len(elems))
			for _, elem := range elems {
				md.Attributes = append(md.Attributes, parseAttribute(elem))
			}
		}
	}
	return md, nil
}

// parseAttribute converts one attributes element. Objects contribute their
// trait_type and value; any other element becomes the value of an untyped trait.
func parseAttribute(elem json.RawMessage) domain.Attribute {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(elem, &obj); err == nil && obj != nil {
		var attr domain.Attribute
		if raw, ok := obj["trait_type"]; ok {
			var traitType any
			if err := json.Unmarshal(raw, &traitType); err == nil && traitType != nil {
				if s, ok := traitType.(string); ok {
					attr.TraitType = s
				} else {
					attr.TraitType = fmt.Sprint(traitType)
				}
			}
		}
		if raw, ok := obj["value"]; ok {
			_ = json.Unmarshal(raw, &attr.Value)
		}
		return attr
	}
	var value any
	_ = json.Unmarshal(elem, &value)
	return domain.Attribute{Value: value}
}

func stringField(doc map[string]json.RawMessage, key string) string {
	raw, ok := doc[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// truncate keeps inline documents and data URIs readable in logs.
func truncate(s string) string {
	const limit = 120
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
