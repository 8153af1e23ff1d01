package serializer

import (
	"bufio"
	"bytes"
	"net/http"
)

// BytesToResponse converts stored bytes back to a http.Response.
// The bytes are expected to be the HTTP/1.1 wire representation
// as produced by ResponseToBytes (or an equivalent recorder).
func BytesToResponse(b []byte) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
}

// ResponseToBytes converts a response to its HTTP/1.1 wire representation.
// The response body is consumed in the process and replaced with a fresh
// reader, so the caller can still use the response afterwards.
func ResponseToBytes(res *http.Response) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	bts := buf.Bytes()
	clonedRes, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, err
	}
	res.Body = clonedRes.Body
	return bts, nil
}
