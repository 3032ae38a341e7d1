// Package handlers contains HTTP building blocks shared by the tutor API:
// health checks and middleware.
//
// # Health Checks
//
// The HealthChecker interface allows registering named health checks that
// are executed in parallel:
//
//	checker := handlers.NewCompositeHealthChecker("v0.1.0")
//	checker.AddCheck("database", handlers.NewDatabaseCheck(conn))
//	checker.AddCheck("redis", handlers.NewCacheCheck(cache))
//	checker.AddCheck("tutor", handlers.NewDegradedCheck(outages))
//
// # Middleware
//
// APIKeyAuth guards the write endpoints; RequestSizeLimitMiddleware and
// SecurityHeadersMiddleware are applied to every request. Chain composes
// them in declaration order.
package handlers
