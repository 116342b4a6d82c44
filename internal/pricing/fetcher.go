// Package pricing loads the purchasable credit packages from the payments
// backend, caching them and falling back to the built-in catalog.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/credits-checkout/internal/cache"
	"github.com/noah-isme/credits-checkout/internal/payment"
	"github.com/noah-isme/credits-checkout/internal/resilience"
)

// DefaultTTL is how long fetched packages stay cached.
const DefaultTTL = 5 * time.Minute

var (
	// ErrEmpty is returned when the backend answers with no usable packages.
	ErrEmpty = errors.New("No pricing data returned from API")
	// ErrSuperseded is reported to a fetch replaced by a newer one.
	ErrSuperseded = errors.New("pricing: fetch superseded")
	// ErrClosed is reported once the fetcher is closed.
	ErrClosed = errors.New("pricing: fetcher closed")
)

// Result is the outcome of a fetch. On backend failure Packages holds the
// built-in catalog, Fallback is set and Err carries the cause.
type Result struct {
	Packages  []payment.Package
	Err       error
	FromCache bool
	Fallback  bool
}

// Fetcher retrieves credit packages. Only the most recent fetch may publish
// its result; older in-flight fetches are cancelled.
type Fetcher struct {
	baseURL string
	http    resilience.HTTPClient
	cache   *cache.StorageCache[[]payment.Package]
	logger  zerolog.Logger

	mu      sync.Mutex
	seq     uint64
	cancel  context.CancelFunc
	closed  bool
	current Result
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the transport.
func WithHTTPClient(c resilience.HTTPClient) Option {
	return func(f *Fetcher) { f.http = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher returns a Fetcher reading from baseURL and caching in c. A nil
// cache disables caching.
func NewFetcher(baseURL string, c *cache.StorageCache[[]payment.Package], opts ...Option) *Fetcher {
	f := &Fetcher{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    resilience.NewHTTPClient("pricing", 10*time.Second, resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget("pricing")),
		cache:   c,
		logger:  zerolog.Nop(),
	}
	f.http.MaxAttempts = 3
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Current returns the last published result.
func (f *Fetcher) Current() Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.current
	res.Packages = append([]payment.Package(nil), res.Packages...)
	return res
}

// Fetch returns cached packages when present, otherwise loads them from the
// backend. It cancels any fetch still in flight.
func (f *Fetcher) Fetch(ctx context.Context) Result {
	ctx, seq, ok := f.begin(ctx)
	if !ok {
		return Result{Err: ErrClosed}
	}

	if f.cache != nil {
		if pkgs, hit := f.cache.Get(ctx); hit && len(pkgs) > 0 {
			res := Result{Packages: pkgs, FromCache: true}
			if !f.publish(seq, res) {
				return Result{Err: ErrSuperseded}
			}
			return res
		}
	}

	pkgs, err := f.load(ctx)
	res := Result{Packages: pkgs}
	if err != nil {
		if ctx.Err() != nil && !f.isCurrent(seq) {
			return Result{Err: ErrSuperseded}
		}
		f.logger.Warn().Err(err).Msg("pricing_fetch_failed")
		res = Result{Packages: payment.Packages(), Err: err, Fallback: true}
	}
	if !f.publish(seq, res) {
		return Result{Err: ErrSuperseded}
	}
	if f.cache != nil {
		f.cache.Set(context.WithoutCancel(ctx), res.Packages)
	}
	return res
}

// Refetch drops the cached packages and fetches again.
func (f *Fetcher) Refetch(ctx context.Context) Result {
	if f.cache != nil {
		f.cache.Clear(ctx)
	}
	return f.Fetch(ctx)
}

// Close aborts any fetch in flight. Later fetches fail with ErrClosed.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}

func (f *Fetcher) begin(ctx context.Context) (context.Context, uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ctx, 0, false
	}
	if f.cancel != nil {
		f.cancel()
	}
	ctx, f.cancel = context.WithCancel(ctx)
	f.seq++
	return ctx, f.seq, true
}

func (f *Fetcher) isCurrent(seq uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed && seq == f.seq
}

func (f *Fetcher) publish(seq uint64, res Result) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || seq != f.seq {
		return false
	}
	f.current = res
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	return true
}

func (f *Fetcher) load(ctx context.Context) ([]payment.Package, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+payment.PathPackages, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pricing: backend returned %s", resp.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	items, err := decodeList(raw)
	if err != nil {
		return nil, err
	}

	pkgs := make([]payment.Package, 0, len(items))
	for _, item := range items {
		check := payment.ValidatePackageObject(item)
		if !check.Valid {
			f.logger.Debug().Str("reason", check.Reason).Msg("pricing_package_dropped")
			continue
		}
		pkgs = append(pkgs, check.Package)
	}
	if len(pkgs) == 0 {
		return nil, ErrEmpty
	}
	return pkgs, nil
}

// decodeList accepts a bare array or an object wrapping it in "data".
func decodeList(raw []byte) ([]any, error) {
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Data []any `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("pricing: decode packages: %w", err)
	}
	return wrapped.Data, nil
}
