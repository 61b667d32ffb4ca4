package idempotency

import (
	"bytes"
	"net/http"
	"time"
)

// recorder buffers a handler response so it can be stored and then written
// to every waiting caller.
type recorder struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header)}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) record(requestHash string) Record {
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	header := r.header.Clone()
	contentType := header.Get("Content-Type")
	if contentType == "" && r.body.Len() > 0 {
		contentType = http.DetectContentType(r.body.Bytes())
	}
	header.Del("Content-Type")
	return Record{
		Status:      status,
		Header:      header,
		Body:        append([]byte(nil), r.body.Bytes()...),
		ContentType: contentType,
		RequestHash: requestHash,
		StoredAt:    time.Now().UTC(),
	}
}
