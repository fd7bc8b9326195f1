// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentria-ai/sentria/services/gateway/handlers"
	"github.com/sentria-ai/sentria/services/gateway/middleware"
	"github.com/sentria-ai/sentria/services/guardrail"
)

// SetupRoutes registers all gateway routes on the router.
//
// # Inputs
//
//   - router: The gin engine to register on.
//   - classifier: The policy classifier shared by both endpoints.
//   - streamHandler: Handler for the moderated SSE chat endpoint.
//   - limiter: Per-client rate limiter applied to the /v1 group. May be
//     nil to disable rate limiting.
func SetupRoutes(router *gin.Engine, classifier guardrail.TextClassifier,
	streamHandler *handlers.StreamChatHandler, limiter *middleware.RateLimiter) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	if limiter != nil {
		v1.Use(middleware.RateLimit(limiter))
	}
	{
		v1.POST("/guardrail/check", handlers.HandleGuardrailCheck(classifier, guardrail.CitationMatcher{}))
		v1.POST("/chat/stream", streamHandler.HandleChatStream)
	}
}
