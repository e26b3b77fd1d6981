package resolver

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

// Shell wraps a Resolver with the cross-cutting behavior every resolver
// call must go through: a per-call deadline, token-bucket rate limiting
// (golang.org/x/time/rate — already present, indirectly, elsewhere in the
// retrieval pack's dependency graph, and the standard Go token-bucket
// limiter), and an optional on-disk TTL cache.
type Shell struct {
	resolver Resolver
	timeout  time.Duration
	limiter  *rate.Limiter
	cache    *DiskCache
}

// NewShell builds an invocation shell. rps<=0 disables rate limiting;
// cache==nil disables caching.
func NewShell(r Resolver, timeout time.Duration, rps float64, burst int, cache *DiskCache) *Shell {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &Shell{resolver: r, timeout: timeout, limiter: limiter, cache: cache}
}

// Invoke resolves req, honoring the configured timeout, rate limit, and
// cache. A context deadline exceeded is reported as RESOLVER_TIMEOUT; a
// rate-limiter wait that itself times out is also RESOLVER_TIMEOUT, since
// from the caller's perspective the resolver was unavailable in time.
func (s *Shell) Invoke(ctx context.Context, req Request) (*Response, error) {
	cacheKey := cacheKey(s.resolver.Name(), req)
	if s.cache != nil {
		if resp, ok := s.cache.Get(cacheKey); ok {
			return resp, nil
		}
	}

	cctx := ctx
	var cancel context.CancelFunc
	if s.timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(cctx); err != nil {
			return nil, model.NewError(model.KindResolverTimeout, "", s.resolver.Name(), fmt.Sprintf("rate limiter wait: %v", err))
		}
	}

	resp, err := s.resolver.Resolve(cctx, req)
	if err != nil {
		if cctx.Err() != nil {
			return nil, model.NewError(model.KindResolverTimeout, "", s.resolver.Name(), err.Error())
		}
		return nil, model.Wrap(model.KindResolverUnavailable, "", s.resolver.Name(), err)
	}
	if resp == nil {
		return nil, model.NewError(model.KindResolverMalformedResp, "", s.resolver.Name(), "resolver returned a nil response without an error")
	}

	if s.cache != nil {
		s.cache.Set(cacheKey, resp)
	}
	return resp, nil
}

func cacheKey(resolverName string, req Request) string {
	key := resolverName + "|"
	for _, id := range req.SourceIDs {
		key += id + ","
	}
	return key
}
