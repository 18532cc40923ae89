package core

import "net/http"

// Handler wires every endpoint in the external interface onto an
// http.ServeMux using Go's method+path pattern routing, then wraps the
// mux in the shared middleware stack.
func Handler(h *Handlers, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", h.HandleLiveness)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /api/selftest", h.HandleSelftest)

	mux.HandleFunc("GET /api/buckets", h.HandleListBuckets)
	mux.HandleFunc("POST /api/buckets", h.HandleCreateBucket)
	mux.HandleFunc("GET /api/buckets/{name}", h.HandleGetBucket)
	mux.HandleFunc("DELETE /api/buckets/{name}", h.HandleDeleteBucket)

	mux.HandleFunc("GET /api/buckets/{b}/objects", h.HandleListObjects)

	// Suffixed, single-segment-key routes are registered ahead of the
	// general {key...} routes below; ServeMux picks the most specific
	// matching pattern regardless of registration order, so a key with
	// an embedded "/" falls through to the general object routes and
	// can never reach /metadata, /versions, or /multipart.
	mux.HandleFunc("GET /api/buckets/{b}/objects/{key}/metadata", h.HandleGetObjectMetadata)
	mux.HandleFunc("PUT /api/buckets/{b}/objects/{key}/metadata", h.HandlePutObjectMetadata)
	mux.HandleFunc("GET /api/buckets/{b}/objects/{key}/versions", h.HandleListVersions)
	mux.HandleFunc("PUT /api/buckets/{b}/objects/{key}/multipart", h.HandleMultipartPut)

	mux.HandleFunc("PUT /api/buckets/{b}/objects/{key...}", h.HandlePutObject)
	mux.HandleFunc("GET /api/buckets/{b}/objects/{key...}", h.HandleGetObject)
	mux.HandleFunc("DELETE /api/buckets/{b}/objects/{key...}", h.HandleDeleteObject)

	return LogRequest(Recoverer(CORS(cfg)(SlashFix(mux))))
}
