package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/credits-checkout/internal/common"
	"github.com/noah-isme/credits-checkout/internal/payment"
)

// RedisOrderStore keeps each order as a JSON string, a per-user sorted set
// index scored by creation time, and an integer credit balance per user.
type RedisOrderStore struct {
	Client *redis.Client
	Prefix string
}

func (s RedisOrderStore) key(parts ...string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "checkout:"
	}
	k := prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (s RedisOrderStore) Create(ctx context.Context, o payment.Order) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	ok, err := s.Client.SetNX(ctx, s.key("order", o.ID), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrOrderExists
	}
	pipe := s.Client.TxPipeline()
	pipe.ZAdd(ctx, s.key("user", o.UserID, "orders"), redis.Z{Score: float64(o.CreatedAt.UnixNano()), Member: o.ID})
	if o.CrossmintOrderID != "" {
		pipe.Set(ctx, s.key("provider", o.CrossmintOrderID), o.ID, 0)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s RedisOrderStore) Get(ctx context.Context, id string) (payment.Order, error) {
	raw, err := s.Client.Get(ctx, s.key("order", id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return payment.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return payment.Order{}, err
	}
	var o payment.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return payment.Order{}, fmt.Errorf("decode order %s: %w", id, err)
	}
	return o, nil
}

func (s RedisOrderStore) GetByProviderID(ctx context.Context, providerID string) (payment.Order, error) {
	id, err := s.Client.Get(ctx, s.key("provider", providerID)).Result()
	if errors.Is(err, redis.Nil) {
		return payment.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return payment.Order{}, err
	}
	return s.Get(ctx, id)
}

func (s RedisOrderStore) Update(ctx context.Context, o payment.Order) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	ok, err := s.Client.SetXX(ctx, s.key("order", o.ID), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrOrderNotFound
	}
	if o.CrossmintOrderID != "" {
		return s.Client.Set(ctx, s.key("provider", o.CrossmintOrderID), o.ID, 0).Err()
	}
	return nil
}

func (s RedisOrderStore) ListByUser(ctx context.Context, userID string, page common.Page) ([]payment.Order, int, error) {
	idx := s.key("user", userID, "orders")
	total, err := s.Client.ZCard(ctx, idx).Result()
	if err != nil {
		return nil, 0, err
	}
	start, end := page.Window(int(total))
	if start >= end {
		return []payment.Order{}, int(total), nil
	}
	ids, err := s.Client.ZRevRange(ctx, idx, int64(start), int64(end-1)).Result()
	if err != nil {
		return nil, 0, err
	}
	out := make([]payment.Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.Get(ctx, id)
		if errors.Is(err, ErrOrderNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, int(total), nil
}

// grantScript marks KEYS[1] and bumps the balance at KEYS[2] in one step;
// an existing marker leaves the balance alone.
var grantScript = redis.NewScript(`if redis.call("set", KEYS[1], ARGV[1], "NX") then
	return {redis.call("incrby", KEYS[2], ARGV[2]), 1}
end
return {tonumber(redis.call("get", KEYS[2]) or "0"), 0}`)

func (s RedisOrderStore) GrantCredits(ctx context.Context, orderID, userID string, n int) (int, bool, error) {
	res, err := grantScript.Run(ctx, s.Client,
		[]string{s.key("grant", orderID), s.key("credits", userID)}, userID, n).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("grant credits: unexpected reply %v", res)
	}
	return int(res[0]), res[1] == 1, nil
}

func (s RedisOrderStore) Credits(ctx context.Context, userID string) (int, error) {
	v, err := s.Client.Get(ctx, s.key("credits", userID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}
