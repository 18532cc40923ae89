package core

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"sevino/internal/dedup"
	"sevino/internal/engine"
	"sevino/internal/selftest"
	"sevino/pkg/metadata"
)

// envelope is the JSON response shape for every structured endpoint:
// {"success": bool, "data": <value|null>, "error": <string|null>}.
type envelope struct {
	Success bool    `json:"success"`
	Data    any     `json:"data"`
	Error   *string `json:"error"`
}

func strPtr(s string) *string { return &s }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Error: nil})
}

// writeEngineError translates an engine error into its mapped HTTP status
// and an error envelope. IoError and CorruptMetadata causes are logged with
// detail; only the engine's message reaches the caller. A non-engine error
// is logged and reported as a generic internal failure.
func writeEngineError(w http.ResponseWriter, err error) {
	if eerr, ok := err.(*engine.Error); ok {
		if eerr.Kind == engine.KindIoError || eerr.Kind == engine.KindCorruptMetadata {
			slog.Error("engine error", "kind", eerr.Kind.String(), "message", eerr.Message, "err", eerr.Err)
		}
		writeJSON(w, eerr.Kind.Status(), envelope{Success: false, Error: strPtr(eerr.Message)})
		return
	}
	slog.Error("unexpected handler error", "err", err)
	writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: strPtr("internal server error")})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: strPtr(message)})
}

// Handlers binds the HTTP surface to a storage engine instance.
type Handlers struct {
	Engine    *engine.Engine
	StartedAt time.Time
}

func NewHandlers(eng *engine.Engine) *Handlers {
	return &Handlers{Engine: eng, StartedAt: time.Now().UTC()}
}

// HandleLiveness answers GET / with a plain-text liveness string.
func (h *Handlers) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("sevino is running\n"))
}

// HandleHealth answers GET /health with {status,timestamp}, unwrapped by
// the success/data/error envelope since it has its own fixed shape.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleSelftest answers GET /api/selftest by running the deterministic
// scenario suite against a throwaway bucket and reporting the results.
func (h *Handlers) HandleSelftest(w http.ResponseWriter, r *http.Request) {
	results := selftest.Run(h.Engine)
	allPassed := true
	for _, res := range results {
		if !res.Passed {
			allPassed = false
			break
		}
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: allPassed,
		Data:    map[string]any{"results": results},
		Error:   nil,
	})
}

func bucketJSON(b *metadata.Bucket) map[string]any {
	return map[string]any{
		"id":           b.ID,
		"name":         b.Name,
		"created_at":   b.CreatedAt.Format(time.RFC3339Nano),
		"object_count": b.ObjectCount,
		"total_size":   b.TotalSize,
	}
}

func objectJSON(o *metadata.Object) map[string]any {
	return map[string]any{
		"id":              o.ID,
		"key":             o.Key,
		"bucket_name":     o.BucketName,
		"size":            o.Size,
		"etag":            o.ETag,
		"content_type":    o.ContentType,
		"created_at":      o.CreatedAt.Format(time.RFC3339Nano),
		"last_modified":   o.LastModified.Format(time.RFC3339Nano),
		"user_metadata":   o.UserMetadata,
		"data_holder_id":  o.DataHolderID,
		"reference_count": o.ReferenceCount,
		"version_id":      o.VersionID,
	}
}

// HandleListBuckets answers GET /api/buckets.
func (h *Handlers) HandleListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.Engine.ListBuckets()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, bucketJSON(b))
	}
	writeOK(w, out)
}

// HandleCreateBucket answers POST /api/buckets with body {name}.
func (h *Handlers) HandleCreateBucket(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "malformed JSON body")
		return
	}
	b, err := h.Engine.CreateBucket(body.Name)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, bucketJSON(b))
}

// HandleGetBucket answers GET /api/buckets/{name}.
func (h *Handlers) HandleGetBucket(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.GetBucket(r.PathValue("name"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, bucketJSON(b))
}

// HandleDeleteBucket answers DELETE /api/buckets/{name}.
func (h *Handlers) HandleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteBucket(r.PathValue("name")); err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, nil)
}

// HandleListObjects answers GET /api/buckets/{b}/objects.
func (h *Handlers) HandleListObjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := engine.ListOptions{
		Prefix:    q.Get("prefix"),
		Delimiter: q.Get("delimiter"),
		Marker:    q.Get("marker"),
		ETagFilter: q.Get("etag_filter"),
	}
	if v := q.Get("max_keys"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.MaxKeys = n
		}
	}
	filters := map[string]string{}
	for key, values := range q {
		if strings.HasPrefix(key, "custom_") && len(values) > 0 {
			filters[strings.TrimPrefix(key, "custom_")] = values[0]
		}
	}
	if len(filters) > 0 {
		opts.UserMetadataFilters = filters
	}

	res, err := h.Engine.List(r.PathValue("b"), opts)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	objs := make([]map[string]any, 0, len(res.Objects))
	for _, o := range res.Objects {
		objs = append(objs, objectJSON(o))
	}
	writeOK(w, map[string]any{
		"objects":         objs,
		"common_prefixes": res.CommonPrefixes,
		"next_marker":     res.NextMarker,
		"truncated":       res.Truncated,
	})
}

// HandlePutObject answers PUT /api/buckets/{b}/objects/{key}, with query
// deduplication_mode, content_type, and a JSON-encoded custom map merged
// into user_metadata.
func (h *Handlers) HandlePutObject(w http.ResponseWriter, r *http.Request) {
	bucket, key := r.PathValue("b"), cleanKey(r.PathValue("key"))
	q := r.URL.Query()

	mode := dedup.ModeAllow
	if raw := q.Get("deduplication_mode"); raw != "" {
		m, err := dedup.ParseMode(raw)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		mode = m
	}

	userMeta := map[string]string{}
	if raw := q.Get("custom"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &userMeta); err != nil {
			writeBadRequest(w, "custom must be a JSON object of string to string")
			return
		}
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	obj, putErr := h.Engine.Put(bucket, key, data, q.Get("content_type"), userMeta, mode)
	if putErr != nil {
		writeEngineError(w, putErr)
		return
	}
	writeOK(w, objectJSON(obj))
}

// HandleGetObject answers GET /api/buckets/{b}/objects/{key} with the raw
// payload bytes, bypassing the envelope.
func (h *Handlers) HandleGetObject(w http.ResponseWriter, r *http.Request) {
	bucket, key := r.PathValue("b"), cleanKey(r.PathValue("key"))
	data, meta, err := h.Engine.Get(bucket, key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(int64(len(data)), 10))
	w.Header().Set("ETag", meta.ETag)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleDeleteObject answers DELETE /api/buckets/{b}/objects/{key}.
func (h *Handlers) HandleDeleteObject(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Delete(r.PathValue("b"), cleanKey(r.PathValue("key"))); err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, nil)
}

// HandleGetObjectMetadata answers GET /api/buckets/{b}/objects/{key}/metadata.
func (h *Handlers) HandleGetObjectMetadata(w http.ResponseWriter, r *http.Request) {
	obj, err := h.Engine.GetMetadata(r.PathValue("b"), r.PathValue("key"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, objectJSON(obj))
}

// HandlePutObjectMetadata answers PUT /api/buckets/{b}/objects/{key}/metadata
// with a JSON body {content_type?,user_metadata?,custom_etag?}.
func (h *Handlers) HandlePutObjectMetadata(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ContentType  *string           `json:"content_type"`
		UserMetadata map[string]string `json:"user_metadata"`
		CustomETag   *string           `json:"custom_etag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "malformed JSON body")
		return
	}

	edit := engine.PutMetadataEdit{
		ContentType:  body.ContentType,
		UserMetadata: body.UserMetadata,
		CustomETag:   body.CustomETag,
	}
	obj, err := h.Engine.PutMetadata(r.PathValue("b"), r.PathValue("key"), edit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, objectJSON(obj))
}

// HandleListVersions answers GET /api/buckets/{b}/objects/{key}/versions.
func (h *Handlers) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.Engine.ListVersions(r.PathValue("b"), r.PathValue("key"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		out = append(out, objectJSON(v))
	}
	writeOK(w, out)
}

// HandleMultipartPut answers PUT /api/buckets/{b}/objects/{key}/multipart
// with query part_number, total_parts, upload_id, content_type.
func (h *Handlers) HandleMultipartPut(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	partNumber, err := strconv.Atoi(q.Get("part_number"))
	if err != nil {
		writeBadRequest(w, "part_number must be an integer")
		return
	}
	totalParts, err := strconv.Atoi(q.Get("total_parts"))
	if err != nil {
		writeBadRequest(w, "total_parts must be an integer")
		return
	}
	uploadID := q.Get("upload_id")
	if uploadID == "" {
		writeBadRequest(w, "upload_id is required")
		return
	}

	data, readErr := io.ReadAll(r.Body)
	if readErr != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	obj, putErr := h.Engine.MultipartPut(r.PathValue("b"), r.PathValue("key"), data, partNumber, totalParts, uploadID, q.Get("content_type"))
	if putErr != nil {
		writeEngineError(w, putErr)
		return
	}
	writeOK(w, objectJSON(obj))
}

// cleanKey normalizes a multi-segment key captured by a {key...} wildcard
// by collapsing "." and ".." segments and stripping the leading slash.
func cleanKey(raw string) string {
	return strings.TrimPrefix(path.Clean("/"+raw), "/")
}
