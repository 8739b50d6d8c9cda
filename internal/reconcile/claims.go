package reconcile

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"crm-dialer/pkg/utils"
)

// RedisClaimer backs Claimer with a SET NX PX script so duplicate callbacks
// are suppressed across instances.
type RedisClaimer struct {
	RDB redis.Scripter
}

func (c RedisClaimer) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return utils.ClaimOnce(ctx, c.RDB, key, owner, ttl)
}

// Release drops the claim when owner still holds it.
func (c RedisClaimer) Release(ctx context.Context, key, owner string) error {
	return utils.ReleaseClaim(ctx, c.RDB, key, owner)
}
