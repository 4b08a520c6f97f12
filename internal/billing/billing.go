package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SpendTracker keeps running model spend per child and enforces an optional
// monthly budget.
type SpendTracker interface {
	AddSpend(ctx context.Context, childID string, costUSD float64) error
	DailySpend(ctx context.Context, childID string, day time.Time) (float64, error)
	MonthlySpend(ctx context.Context, childID string, month time.Time) (float64, error)
	WithinBudget(ctx context.Context, childID string) bool
}

// NoopTracker does not enforce budgets and discards spend.
type NoopTracker struct{}

func NewNoopTracker() *NoopTracker {
	return &NoopTracker{}
}

func (t *NoopTracker) AddSpend(ctx context.Context, childID string, costUSD float64) error {
	return nil
}

func (t *NoopTracker) DailySpend(ctx context.Context, childID string, day time.Time) (float64, error) {
	return 0, nil
}

func (t *NoopTracker) MonthlySpend(ctx context.Context, childID string, month time.Time) (float64, error) {
	return 0, nil
}

func (t *NoopTracker) WithinBudget(ctx context.Context, childID string) bool {
	return true
}

// spendTTL keeps two full months of history.
const spendTTL = 62 * 24 * time.Hour

var addSpendScript = redis.NewScript(`
	local cost = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])

	local day = (tonumber(redis.call('GET', KEYS[1])) or 0) + cost
	redis.call('SET', KEYS[1], tostring(day), 'EX', ttl)

	local month = (tonumber(redis.call('GET', KEYS[2])) or 0) + cost
	redis.call('SET', KEYS[2], tostring(month), 'EX', ttl)

	return tostring(month)
`)

// RedisSpendTracker tracks spend in Redis under daily and monthly keys.
type RedisSpendTracker struct {
	redis         *redis.Client
	monthlyBudget float64
	now           func() time.Time
}

// NewRedisSpendTracker creates a tracker. A monthlyBudgetUSD of zero or less
// means unlimited.
func NewRedisSpendTracker(client *redis.Client, monthlyBudgetUSD float64) *RedisSpendTracker {
	return &RedisSpendTracker{
		redis:         client,
		monthlyBudget: monthlyBudgetUSD,
		now:           time.Now,
	}
}

// AddSpend adds cost to today's and this month's totals atomically
func (t *RedisSpendTracker) AddSpend(ctx context.Context, childID string, costUSD float64) error {
	if costUSD <= 0 {
		return nil
	}

	now := t.now()
	keys := []string{dailyKey(childID, now), monthlyKey(childID, now)}
	ttl := int(spendTTL / time.Second)

	if _, err := addSpendScript.Run(ctx, t.redis, keys, costUSD, ttl).Result(); err != nil {
		return fmt.Errorf("failed to add spend: %w", err)
	}
	return nil
}

// DailySpend returns the spend recorded on the calendar day of day
func (t *RedisSpendTracker) DailySpend(ctx context.Context, childID string, day time.Time) (float64, error) {
	return t.get(ctx, dailyKey(childID, day))
}

// MonthlySpend returns the spend recorded in the calendar month of month
func (t *RedisSpendTracker) MonthlySpend(ctx context.Context, childID string, month time.Time) (float64, error) {
	return t.get(ctx, monthlyKey(childID, month))
}

// WithinBudget reports whether the child's spend this month is under budget.
// Lookup failures allow the request.
func (t *RedisSpendTracker) WithinBudget(ctx context.Context, childID string) bool {
	if t.monthlyBudget <= 0 {
		return true
	}

	spent, err := t.MonthlySpend(ctx, childID, t.now())
	if err != nil {
		return true
	}
	return spent < t.monthlyBudget
}

// ResetMonthlySpend clears this month's total for a child (parent use)
func (t *RedisSpendTracker) ResetMonthlySpend(ctx context.Context, childID string) error {
	return t.redis.Del(ctx, monthlyKey(childID, t.now())).Err()
}

func (t *RedisSpendTracker) get(ctx context.Context, key string) (float64, error) {
	val, err := t.redis.Get(ctx, key).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get spend: %w", err)
	}
	return val, nil
}

func dailyKey(childID string, t time.Time) string {
	return fmt.Sprintf("spend:%s:%s", childID, t.Format("2006-01-02"))
}

func monthlyKey(childID string, t time.Time) string {
	return fmt.Sprintf("spend:%s:%s", childID, t.Format("2006-01"))
}
