package handler

import (
	"coin-mixer/internal/adapter/http/middleware"
	"coin-mixer/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	MixerSvc         ports.MixerService
	Journal          ports.TransactionJournal // nil = journal endpoint disabled
	IdempotencyCache ports.IdempotencyCache   // nil = Idempotency-Key ignored
	RateLimitStore   ports.RateLimitStore     // nil = rate limiting disabled
	HealthCheckers   []ports.HealthChecker
	MintAmount       decimal.Decimal
	MaxBodyBytes     int64
	Logger           zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = middleware.DefaultMaxBodyBytes
	}

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(maxBody))
	r.Use(middleware.AuditLog(deps.Logger))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	mixerHandler := NewMixerHandler(deps.MixerSvc, deps.Journal, deps.IdempotencyCache, deps.MintAmount, deps.Logger)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/addresses", rl(middleware.GroupAddresses), mixerHandler.IssueAddress)
		v1.GET("/addresses/:address", rl(middleware.GroupQueries), mixerHandler.GetAddress)
		v1.POST("/transfers", rl(middleware.GroupTransfers), mixerHandler.Transfer)
		v1.GET("/transactions", rl(middleware.GroupQueries), mixerHandler.ListTransactions)
		v1.GET("/stats", rl(middleware.GroupQueries), mixerHandler.GetStats)
		if deps.Journal != nil {
			v1.GET("/journal", rl(middleware.GroupQueries), mixerHandler.ListJournal)
		}
	}

	return r
}
