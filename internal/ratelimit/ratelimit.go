package ratelimit

import (
	"context"
	"time"
)

// Rule is one moving-window quota: at most Limit hits inside Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// AccountRules caps upstream traffic per account: one turn a minute and
// sixty an hour. Both must hold for a hit to pass.
var AccountRules = []Rule{
	{Limit: 1, Window: time.Minute},
	{Limit: 60, Window: time.Hour},
}

// Namespace prefixes every limiter key so the keyspace can be shared with
// other tenants of the same Redis.
const Namespace = "botmgr"

// Limiter answers whether a key may take another hit right now. Test is a
// read-only probe; Hit records a consumption and fails when any rule is
// already exhausted.
type Limiter interface {
	Test(ctx context.Context, key string) (bool, error)
	Hit(ctx context.Context, key string) (bool, error)
}
