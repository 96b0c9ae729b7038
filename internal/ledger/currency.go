package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var currencyCodePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// DefaultCurrencies are the codes provisioned by SeedCurrencies at startup.
var DefaultCurrencies = []string{"EUR", "GBP", "NGN", "USD"}

// CurrencyDirectory maps currency codes to internal currency identifiers.
type CurrencyDirectory interface {
	Resolve(ctx context.Context, code string) (*Currency, error)
}

// CachedCurrencyDirectory resolves codes from the store and remembers them.
// Currencies never change once provisioned, so entries are never invalidated.
type CachedCurrencyDirectory struct {
	store  CurrencyStore
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.RWMutex
	local map[string]Currency
}

// NewCachedCurrencyDirectory builds a directory. rdb may be nil to skip the shared cache.
func NewCachedCurrencyDirectory(store CurrencyStore, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedCurrencyDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedCurrencyDirectory{
		store:  store,
		redis:  rdb,
		ttl:    ttl,
		logger: logger,
		local:  make(map[string]Currency),
	}
}

func currencyCacheKey(code string) string {
	return "currency:" + code
}

// Resolve returns the currency for code or an unknown_currency error.
func (d *CachedCurrencyDirectory) Resolve(ctx context.Context, code string) (*Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !currencyCodePattern.MatchString(code) {
		return nil, newError(KindUnknownCurrency, fmt.Sprintf("currency code '%s' must be three letters (ISO 4217)", code))
	}

	d.mu.RLock()
	c, ok := d.local[code]
	d.mu.RUnlock()
	if ok {
		return &c, nil
	}

	if cached, ok := d.fromRedis(ctx, code); ok {
		d.remember(*cached)
		return cached, nil
	}

	cur, err := d.store.FindCurrencyByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCurrencyNotFound) {
			return nil, newError(KindUnknownCurrency, fmt.Sprintf("currency '%s' is not supported", code))
		}
		return nil, wrapError(KindStorageFault, "failed to resolve currency", err)
	}

	d.remember(*cur)
	d.toRedis(ctx, cur)
	return cur, nil
}

func (d *CachedCurrencyDirectory) remember(c Currency) {
	d.mu.Lock()
	d.local[c.Code] = c
	d.mu.Unlock()
}

func (d *CachedCurrencyDirectory) fromRedis(ctx context.Context, code string) (*Currency, bool) {
	if d.redis == nil {
		return nil, false
	}
	data, err := d.redis.Get(ctx, currencyCacheKey(code)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			d.logger.Warn("currency cache read failed", "code", code, "error", err)
		}
		return nil, false
	}
	var c Currency
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, false
	}
	return &c, true
}

// toRedis is best effort; a cache write failure never fails the lookup.
func (d *CachedCurrencyDirectory) toRedis(ctx context.Context, c *Currency) {
	if d.redis == nil {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := d.redis.Set(ctx, currencyCacheKey(c.Code), data, d.ttl).Err(); err != nil {
		d.logger.Warn("currency cache write failed", "code", c.Code, "error", err)
	}
}

// Provisioner creates reference data and accounts outside of any transfer.
type Provisioner interface {
	Migrate(ctx context.Context) error
	CreateCurrency(ctx context.Context, code string) (*Currency, error)
	CreateAccount(ctx context.Context, na NewAccount) (*Account, error)
}

// SeedCurrencies migrates the schema and provisions codes, returning them keyed by code.
func SeedCurrencies(ctx context.Context, p Provisioner, codes []string) (map[string]Currency, error) {
	if err := p.Migrate(ctx); err != nil {
		return nil, err
	}
	seeded := make(map[string]Currency, len(codes))
	for _, code := range codes {
		c, err := p.CreateCurrency(ctx, code)
		if err != nil {
			return nil, err
		}
		seeded[c.Code] = *c
	}
	return seeded, nil
}
