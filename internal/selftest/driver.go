// Package selftest runs a deterministic suite of scenarios against a
// throwaway bucket inside the live engine, exercising the dedup
// coordinator and object engine end-to-end. It is purely additive
// instrumentation: it never changes put/get/delete semantics.
package selftest

import (
	"fmt"

	"github.com/google/uuid"

	"sevino/internal/dedup"
	"sevino/internal/engine"
)

// Result is one scenario's outcome.
type Result struct {
	Scenario string `json:"scenario"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail"`
}

type runner struct {
	eng     *engine.Engine
	bucket  string
	results []Result
}

func (r *runner) check(name string, cond bool, detail string) {
	r.results = append(r.results, Result{Scenario: name, Passed: cond, Detail: detail})
}

func (r *runner) checkNoErr(name string, err error) bool {
	if err != nil {
		r.check(name, false, err.Error())
		return false
	}
	r.check(name, true, "ok")
	return true
}

// Run exercises the component E (dedup coordinator) and component F
// (object engine) scenarios against a fresh, disposable bucket and
// returns a structured report. The bucket is removed before Run returns,
// regardless of outcome.
func Run(eng *engine.Engine) []Result {
	r := &runner{eng: eng, bucket: "selftest-" + uuid.NewString()[:8]}
	defer func() { _ = r.eng.DeleteBucket(r.bucket) }()

	if _, err := r.eng.CreateBucket(r.bucket); !r.checkNoErr("create bucket", err) {
		return r.results
	}

	r.basicRoundTrip()
	r.rejectDedup()
	r.referenceDedupAndHolderPinning()
	r.allowModeDoesNotDedup()
	r.metadataEditPreservesBytes()

	return r.results
}

func (r *runner) basicRoundTrip() {
	const name = "basic round-trip"
	obj, err := r.eng.Put(r.bucket, "x", []byte("hello"), "text/plain", nil, dedup.ModeAllow)
	if !r.checkNoErr(name+": put", err) {
		return
	}
	wantEtag := `"5d41402abc4b2a76b9719d911017c592"`
	if obj.ETag != wantEtag {
		r.check(name+": etag", false, fmt.Sprintf("got %s want %s", obj.ETag, wantEtag))
		return
	}
	data, meta, err := r.eng.Get(r.bucket, "x")
	if !r.checkNoErr(name+": get", err) {
		return
	}
	r.check(name+": bytes match", string(data) == "hello", fmt.Sprintf("got %q", data))
	r.check(name+": etag matches", meta.ETag == wantEtag, meta.ETag)
}

func (r *runner) rejectDedup() {
	const name = "reject dedup"
	_, err := r.eng.Put(r.bucket, "reject-dup", []byte("hello"), "", nil, dedup.ModeReject)
	isDup := err != nil && err.(*engine.Error).Kind == engine.KindDuplicateContent
	r.check(name+": duplicate refused", isDup, fmt.Sprintf("err=%v", err))

	_, err = r.eng.Put(r.bucket, "reject-dup", []byte("world"), "", nil, dedup.ModeReject)
	r.checkNoErr(name+": non-duplicate accepted", err)
}

func (r *runner) referenceDedupAndHolderPinning() {
	const name = "reference dedup + holder pinning"
	y, err := r.eng.Put(r.bucket, "y", []byte("hello"), "", nil, dedup.ModeReference)
	if !r.checkNoErr(name+": reference put", err) {
		return
	}
	r.check(name+": became a reference", y.DataHolderID != "self", y.DataHolderID)

	xMeta, err := r.eng.GetMetadata(r.bucket, "x")
	if !r.checkNoErr(name+": load holder", err) {
		return
	}
	r.check(name+": holder refcount incremented", xMeta.ReferenceCount == 1, fmt.Sprintf("refcount=%d", xMeta.ReferenceCount))

	err = r.eng.Delete(r.bucket, "x")
	refused := err != nil && err.(*engine.Error).Kind == engine.KindHolderHasReferences
	r.check(name+": pinned holder delete refused", refused, fmt.Sprintf("err=%v", err))

	r.checkNoErr(name+": delete reference", r.eng.Delete(r.bucket, "y"))

	xMeta, err = r.eng.GetMetadata(r.bucket, "x")
	if !r.checkNoErr(name+": reload holder", err) {
		return
	}
	r.check(name+": holder refcount released", xMeta.ReferenceCount == 0, fmt.Sprintf("refcount=%d", xMeta.ReferenceCount))

	r.checkNoErr(name+": delete freed holder", r.eng.Delete(r.bucket, "x"))

	_, _, err = r.eng.Get(r.bucket, "x")
	notFound := err != nil && err.(*engine.Error).Kind == engine.KindNotFound
	r.check(name+": no resurrection after delete", notFound, fmt.Sprintf("err=%v", err))
}

func (r *runner) allowModeDoesNotDedup() {
	const name = "allow mode does not dedup"
	if _, err := r.eng.Put(r.bucket, "allow-1", []byte("same"), "", nil, dedup.ModeAllow); !r.checkNoErr(name+": put 1", err) {
		return
	}
	obj2, err := r.eng.Put(r.bucket, "allow-2", []byte("same"), "", nil, dedup.ModeAllow)
	if !r.checkNoErr(name+": put 2", err) {
		return
	}
	r.check(name+": second object is its own holder", obj2.DataHolderID == "self", obj2.DataHolderID)
}

func (r *runner) metadataEditPreservesBytes() {
	const name = "metadata edit preserves bytes"
	if _, err := r.eng.Put(r.bucket, "edit-me", []byte("payload"), "", nil, dedup.ModeAllow); !r.checkNoErr(name+": put", err) {
		return
	}
	tag := `"my-tag"`
	if _, err := r.eng.PutMetadata(r.bucket, "edit-me", engine.PutMetadataEdit{CustomETag: &tag}); !r.checkNoErr(name+": edit", err) {
		return
	}
	data, meta, err := r.eng.Get(r.bucket, "edit-me")
	if !r.checkNoErr(name+": get after edit", err) {
		return
	}
	r.check(name+": bytes unchanged", string(data) == "payload", string(data))
	r.check(name+": visible etag updated", meta.ETag == tag, meta.ETag)
}
