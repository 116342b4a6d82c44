// Command checkout drives the credits purchase workflow against a payments
// backend.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/credits-checkout/internal/auth"
	"github.com/noah-isme/credits-checkout/internal/cache"
	"github.com/noah-isme/credits-checkout/internal/config"
	"github.com/noah-isme/credits-checkout/internal/events"
	"github.com/noah-isme/credits-checkout/internal/obs"
	"github.com/noah-isme/credits-checkout/internal/payment"
	"github.com/noah-isme/credits-checkout/internal/pricing"
	"github.com/noah-isme/credits-checkout/internal/resilience"
	"github.com/noah-isme/credits-checkout/internal/signature"
)

const usage = `usage: checkout <command> [flags] [args]

commands:
  packages [-refresh]                    list credit packages
  buy [-wait] [-retries N] [-events F] <packageId>
                                         open a checkout session
  confirm [-retries N] <orderId>         confirm a payment
  history [-user ID]                     list payment history
  token -user ID                         issue a development bearer token
  sign -secret S <payload>               sign a webhook payload
  verify -secret S -sig X <payload>      verify a webhook signature
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type cli struct {
	cfg    *config.Config
	logger zerolog.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	c := cli{
		cfg:    cfg,
		logger: obs.NewLoggerTo(stderr, "console", cfg.Obs.LogLevel),
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "packages":
		err = c.packages(ctx, rest)
	case "buy":
		err = c.buy(ctx, rest)
	case "confirm":
		err = c.confirm(ctx, rest)
	case "history":
		err = c.history(ctx, rest)
	case "token":
		err = c.token(rest)
	case "sign":
		err = c.sign(rest)
	case "verify":
		err = c.verify(rest)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
	if err != nil {
		var usageErr usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(stderr, "%s\n\n%s", usageErr, usage)
			return 2
		}
		c.logger.Error().Err(err).Str("command", cmd).Msg("command_failed")
		return 1
	}
	return 0
}

type usageError string

func (e usageError) Error() string { return string(e) }

func (c cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c cli) print(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c cli) httpClient(target string) resilience.HTTPClient {
	cl := resilience.NewHTTPClient(target, c.cfg.API.HTTPTimeout,
		resilience.NewBreaker(c.cfg.Circuit.MinRequests, c.cfg.Circuit.FailureRatio, c.cfg.Circuit.OpenFor).
			WithTarget(target).
			WithLogger(c.logger))
	cl.BaseBackoff = c.cfg.API.RetryBase
	cl.MaxAttempts = c.cfg.API.RetryMaxAttempts
	cl.Logger = &c.logger
	return cl
}

func (c cli) orchestrator() (*payment.Orchestrator, error) {
	token, err := c.cfg.API.Token()
	if err != nil {
		return nil, err
	}
	api := payment.NewAPIService(c.cfg.API.BaseURL,
		payment.WithTokenProvider(func() string { return token }),
		payment.WithHTTPClient(c.httpClient("payments-api")),
		payment.WithAPILogger(c.logger),
	)
	return payment.NewOrchestrator(api,
		payment.WithLogger(c.logger),
		payment.WithRetryBase(c.cfg.API.RetryBase),
		payment.WithErrorCallback(func(message string) {
			c.logger.Warn().Msg(message)
		}),
	), nil
}

func (c cli) cacheStore() (cache.Store, func()) {
	if c.cfg.RedisURL == "" {
		return cache.NewMemoryStore(), func() {}
	}
	opts, err := redis.ParseURL(c.cfg.RedisURL)
	if err != nil {
		c.logger.Warn().Err(err).Msg("redis_url_invalid_using_memory_cache")
		return cache.NewMemoryStore(), func() {}
	}
	client := redis.NewClient(opts)
	return cache.NewRedisStore(client, "checkout:"), func() { _ = client.Close() }
}

func (c cli) packages(ctx context.Context, args []string) error {
	fs := c.flags("packages")
	refresh := fs.Bool("refresh", false, "bypass the pricing cache")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	store, closeStore := c.cacheStore()
	defer closeStore()
	pricingCache := cache.New[[]payment.Package](store, cache.KeyPricing(), c.cfg.Cache.PricingTTL,
		cache.WithLogger(c.logger),
		cache.WithReadHook(obs.ObserveCacheLookup),
	)
	fetcher := pricing.NewFetcher(c.cfg.API.BaseURL, pricingCache,
		pricing.WithHTTPClient(c.httpClient("pricing")),
		pricing.WithLogger(c.logger),
	)
	defer fetcher.Close()

	var res pricing.Result
	if *refresh {
		res = fetcher.Refetch(ctx)
	} else {
		res = fetcher.Fetch(ctx)
	}
	type row struct {
		payment.Package
		DisplayPrice   string `json:"displayPrice"`
		DisplayCredits string `json:"displayCredits"`
		Bonus          string `json:"bonus,omitempty"`
	}
	out := struct {
		Packages  []row  `json:"packages"`
		FromCache bool   `json:"fromCache"`
		Fallback  bool   `json:"fallback"`
		Error     string `json:"error,omitempty"`
	}{FromCache: res.FromCache, Fallback: res.Fallback}
	for _, p := range res.Packages {
		r := row{
			Package:        p,
			DisplayPrice:   payment.FormatPrice(p.Price.Amount, p.Price.Currency, 2),
			DisplayCredits: payment.FormatCredits(p.TotalCredits()),
		}
		if p.Credits.BonusAmount > 0 {
			r.Bonus = payment.FormatPercentage(payment.BonusPercentage(p), 0)
		}
		out.Packages = append(out.Packages, r)
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return c.print(out)
}

func (c cli) buy(ctx context.Context, args []string) error {
	fs := c.flags("buy")
	wait := fs.Bool("wait", false, "poll until the payment is confirmed")
	retries := fs.Int("retries", c.cfg.API.RetryMaxAttempts, "confirmation attempts with -wait")
	eventsFile := fs.String("events", "", "file of checkout events (JSON lines, - for stdin) to apply")
	user := fs.String("user", "", "user id recorded on emitted events")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if fs.NArg() != 1 {
		return usageError("buy requires a package id")
	}
	orch, err := c.orchestrator()
	if err != nil {
		return err
	}
	provider := payment.NewProvider(orch,
		payment.WithProviderLogger(c.logger),
		payment.WithUserID(*user),
		payment.WithEventBus(&events.Bus{
			Notifiers: []events.Notifier{events.LogNotifier{Logger: c.logger}, events.MetricsNotifier{}},
			Source:    events.SourceFrontend,
		}),
		payment.WithStateListener(func(s payment.State) {
			c.logger.Debug().Str("status", string(s.Status)).Str("order_id", s.OrderID).Msg("payment_state")
		}),
	)
	provider.SelectPackage(fs.Arg(0))

	session, err := provider.InitiatePayment(ctx, fs.Arg(0))
	if err != nil {
		_ = c.print(provider.State())
		return err
	}

	switch {
	case *eventsFile != "":
		if err := c.applyEvents(ctx, provider, *eventsFile); err != nil {
			return err
		}
	case *wait:
		res, err := orch.RetryPaymentConfirmation(ctx, session.OrderID, *retries)
		if err != nil {
			provider.HandlePaymentError(ctx, payment.UserMessage(err))
			_ = c.print(provider.State())
			return err
		}
		return c.print(struct {
			Session payment.Session       `json:"session"`
			Result  payment.ConfirmResult `json:"result"`
		}{session, res})
	}
	return c.print(provider.State())
}

func (c cli) applyEvents(ctx context.Context, provider *payment.Provider, path string) error {
	var r io.Reader = c.stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ev, err := payment.ParseCheckoutEvent([]byte(line))
		if err != nil {
			return fmt.Errorf("parse checkout event: %w", err)
		}
		if err := provider.HandleCheckoutEvent(ctx, ev); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (c cli) confirm(ctx context.Context, args []string) error {
	fs := c.flags("confirm")
	retries := fs.Int("retries", 1, "confirmation attempts")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if fs.NArg() != 1 {
		return usageError("confirm requires an order id")
	}
	orch, err := c.orchestrator()
	if err != nil {
		return err
	}
	var res payment.ConfirmResult
	if *retries > 1 {
		res, err = orch.RetryPaymentConfirmation(ctx, fs.Arg(0), *retries)
	} else {
		res, err = orch.HandlePaymentSuccess(ctx, fs.Arg(0))
	}
	if err != nil {
		return err
	}
	return c.print(res)
}

func (c cli) history(ctx context.Context, args []string) error {
	fs := c.flags("history")
	user := fs.String("user", "", "user id whose history to list")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if *user == "" {
		return usageError("history requires -user")
	}
	orch, err := c.orchestrator()
	if err != nil {
		return err
	}
	orders, err := orch.GetPaymentHistory(ctx, *user)
	if err != nil {
		return err
	}
	return c.print(map[string]any{"orders": orders})
}

func (c cli) token(args []string) error {
	fs := c.flags("token")
	user := fs.String("user", "", "token subject")
	ttl := fs.Duration("ttl", c.cfg.Gateway.TokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if *user == "" {
		return usageError("token requires -user")
	}
	a, err := auth.NewAuthenticator(auth.Config{
		Secret:   c.cfg.Gateway.JWTSecret,
		Issuer:   c.cfg.Gateway.JWTIssuer,
		Audience: c.cfg.Gateway.JWTAudience,
		TTL:      *ttl,
	})
	if err != nil {
		return err
	}
	tok, err := a.Issue(*user)
	if err != nil {
		return err
	}
	return c.print(map[string]any{"token": tok, "expiresAt": time.Now().Add(*ttl).UTC()})
}

func (c cli) sign(args []string) error {
	fs := c.flags("sign")
	secret := fs.String("secret", c.cfg.Gateway.WebhookSecret, "webhook secret")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if fs.NArg() != 1 || *secret == "" {
		return usageError("sign requires -secret and a payload")
	}
	return c.print(map[string]string{"signature": signature.Create(fs.Arg(0), *secret)})
}

func (c cli) verify(args []string) error {
	fs := c.flags("verify")
	secret := fs.String("secret", c.cfg.Gateway.WebhookSecret, "webhook secret")
	sig := fs.String("sig", "", "signature to check")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if fs.NArg() != 1 {
		return usageError("verify requires a payload")
	}
	valid := signature.Verify(*sig, fs.Arg(0), *secret)
	if err := c.print(map[string]bool{"valid": valid}); err != nil {
		return err
	}
	if !valid {
		return payment.ErrSignature
	}
	return nil
}
