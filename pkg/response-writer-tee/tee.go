package tee

import (
	"bytes"
	"fmt"
	"net/http"
)

// ResponseSaver is a wrapper around http.ResponseWriter that saves the
// response to a buffer in HTTP/1.1 wire format while streaming it through
// to the underlying writer.
//
// It also records a proxy transport error via Fail, so callers can tell
// "origin unreachable, nothing written to the client" apart from a
// delivered response.
type ResponseSaver struct {
	rw           http.ResponseWriter
	b            *bytes.Buffer
	header       http.Header
	status       int
	wroteHeaders bool
	err          error
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Header() http.Header {
	return t.header
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) WriteHeader(statusCode int) {
	t.wroteHeaders = true
	t.status = statusCode
	// write http status, headers, and separator to buffer
	// this uses HTTP 1.1 format only
	t.b.WriteString(fmt.Sprintf("HTTP/1.1 %d %s\n", statusCode, http.StatusText(statusCode)))
	t.header.Write(t.b)
	t.b.WriteString("\n")
	if t.rw != nil {
		copyHeader(t.rw.Header(), t.header)
		t.rw.WriteHeader(statusCode)
	}
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Write(b []byte) (int, error) {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	if t.rw != nil {
		t.rw.Write(b)
	}
	return t.b.Write(b)
}

// Fail records a transport error. It is meant to be called from a reverse
// proxy error handler, i.e. before anything was written to the client.
func (t *ResponseSaver) Fail(err error) {
	t.err = err
}

// Err returns the recorded transport error, if any.
func (t *ResponseSaver) Err() error {
	return t.err
}

// Response returns the recorded response as a byte slice.
func (t *ResponseSaver) Response() []byte {
	return t.b.Bytes()
}

// StatusCode returns the status code of the response.
func (t *ResponseSaver) StatusCode() int {
	return t.status
}

// Wrote reports whether any part of the response reached the buffer.
func (t *ResponseSaver) Wrote() bool {
	return t.wroteHeaders
}

// NewResponseSaver returns a new ResponseSaver.
// If w is not nil, the response will be written (tee'd) to it in addition
// to saving to the buffer.
func NewResponseSaver(w http.ResponseWriter) *ResponseSaver {
	return &ResponseSaver{
		rw:     w,
		b:      &bytes.Buffer{},
		header: http.Header{},
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
