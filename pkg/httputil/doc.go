// Package httputil holds the JSON reply helpers, request parsing and
// middleware shared by the API handlers.
//
// Every error reply has the body {"message": "..."}:
//
//	httputil.WriteDecision(w, decision)      // 401, 403 or 404 from the engine
//	httputil.WriteBadRequest(w, "name is missing")
//	httputil.WriteInternalError(w)
//
// Middleware composes with Chain, outermost first:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
