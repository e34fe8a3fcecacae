package panini

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit is a middleware allowing each client rps requests per second with
// bursts of up to burst requests. Clients are identified like in the access
// log: by proxy header or remote address. Requests over the limit fail with
// 429.
func RateLimit(rps float64, burst int) Middleware {
	pool := &limiterPool{rps: rps, burst: burst}
	return RequestMiddleware(func(ctx context.Context, req *Request, next Handler) (*Response, error) {
		if !pool.Allow(remoteIp(req)) {
			return nil, &ResponseError{Code: http.StatusTooManyRequests, LogMsg: "rate limited"}
		}
		return next.Handle(ctx, req)
	})
}

// Limiters idle for longer than limiterIdle (or than it takes to refill a
// whole burst, if that is longer) are dropped. An evicted limiter would have
// been full again, so eviction never changes a client's budget.
const (
	limiterIdle  = 10 * time.Minute
	limiterSweep = time.Minute
)

type limiterPool struct {
	mu        sync.Mutex
	m         map[string]*pooledLimiter
	rps       float64
	burst     int
	lastSweep time.Time
}

type pooledLimiter struct {
	*rate.Limiter
	lastSeen time.Time
}

func (p *limiterPool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*pooledLimiter)
		p.lastSweep = now
	}
	if now.Sub(p.lastSweep) >= limiterSweep {
		p.sweep(now)
	}
	if l, ok := p.m[key]; ok {
		l.lastSeen = now
		return l.Limiter
	}
	rps := p.rps
	if rps <= 0 {
		rps = 5
	}
	burst := p.burst
	if burst <= 0 {
		burst = 10
	}
	l := &pooledLimiter{rate.NewLimiter(rate.Limit(rps), burst), now}
	p.m[key] = l
	return l.Limiter
}

func (p *limiterPool) sweep(now time.Time) {
	p.lastSweep = now
	for key, l := range p.m {
		idle := limiterIdle
		if refill := time.Duration(float64(l.Burst()) / float64(l.Limit()) * float64(time.Second)); refill > idle {
			idle = refill
		}
		if now.Sub(l.lastSeen) > idle {
			delete(p.m, key)
		}
	}
}

func (p *limiterPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

func (p *limiterPool) Allow(key string) bool {
	now := time_Now()
	return p.get(key, now).AllowN(now, 1)
}
