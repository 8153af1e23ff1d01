package shellcache

import "fmt"

// Cache-Status header handling per RFC 9211 vocabulary,
// e.g. "shell-cache; hit" or "shell-cache; fwd=uri-miss".

type StatusToken string

const (
	StatusHit StatusToken = "hit"
	StatusFwd StatusToken = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"
)

type CacheStatus struct {
	status    StatusToken
	detail    string
	fwdReason FwdReason
}

func (cs *CacheStatus) Hit() {
	cs.status = StatusHit
	cs.fwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.status = StatusFwd
	cs.fwdReason = reason
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs *CacheStatus) String() string {
	status := fmt.Sprintf("shell-cache; %s", cs.status)
	if cs.status == StatusFwd && cs.fwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.fwdReason)
	}
	if cs.detail != "" {
		status = status + "; detail=" + cs.detail
	}
	return status
}
