// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the gateway service.
//
// # Rate Limiting
//
// The rate limit middleware maintains a token bucket per client IP.
// Classification calls are expensive (each one is a retrieval plus a
// generation round trip), so the gateway bounds how fast a single client
// can trigger them:
//
//	Request
//	   │
//	   ▼
//	RateLimit
//	   │
//	   ├─► look up bucket for ClientIP (create on first sight)
//	   │
//	   ├─► Allow()? ──no──► 429 Too Many Requests
//	   │
//	   └─► yes ──► Handler
//
// Idle buckets are evicted periodically so the map does not grow without
// bound under IP churn.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// =============================================================================
// Rate Limiter
// =============================================================================

const (
	// clientTTL is how long an idle client's bucket is retained.
	clientTTL = 10 * time.Minute

	// evictEvery is how often stale buckets are swept.
	evictEvery = time.Minute
)

// clientLimiter pairs a token bucket with its last-seen time.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter issues per-client token buckets.
//
// # Thread Safety
//
// Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rps     rate.Limit
	burst   int
	lastGC  time.Time
}

// NewRateLimiter creates a RateLimiter allowing rps requests per second
// with the given burst per client.
//
// # Inputs
//
//   - rps: Sustained requests per second per client. Must be positive.
//   - burst: Bucket capacity. Values below 1 are raised to 1.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		rps:     rate.Limit(rps),
		burst:   burst,
		lastGC:  time.Now(),
	}
}

// Allow reports whether the client identified by key may proceed.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.lastGC) > evictEvery {
		r.evictStale(now)
		r.lastGC = now
	}

	cl, ok := r.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(r.rps, r.burst)}
		r.clients[key] = cl
	}
	cl.lastSeen = now

	return cl.limiter.Allow()
}

// evictStale drops buckets idle longer than clientTTL. Caller holds mu.
func (r *RateLimiter) evictStale(now time.Time) {
	for key, cl := range r.clients {
		if now.Sub(cl.lastSeen) > clientTTL {
			delete(r.clients, key)
		}
	}
}

// =============================================================================
// Middleware
// =============================================================================

// RateLimit returns gin middleware enforcing the limiter per client IP.
//
// # Examples
//
//	limiter := middleware.NewRateLimiter(5, 10)
//	router.Use(middleware.RateLimit(limiter))
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
