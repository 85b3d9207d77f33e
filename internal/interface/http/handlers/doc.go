// Package handlers holds the HTTP plumbing shared by the progression API:
// staff authentication, actor propagation, request logging, panic recovery
// and readiness checks.
//
// Authentication compares the configured API key header (or a Bearer token)
// against bcrypt hashes. A key that verified once is remembered by its
// SHA-256 digest for the life of the process.
//
// The acting staff member is read from the actor header and stored in the
// request context:
//
//	r.Use(handlers.ActorMiddleware("X-Actor-ID"))
//	r.With(handlers.RequireActor).Post("/promotion-requests/{id}/decision", h)
//
// Handlers read it back with ActorFromContext.
//
// Readiness is aggregated by CompositeHealthChecker, which runs every
// registered check concurrently with a per-check timeout:
//
//	hc := handlers.NewCompositeHealthChecker(version)
//	hc.AddCheck("postgres", handlers.NewPingCheck(conn))
//	hc.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
package handlers
