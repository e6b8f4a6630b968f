package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// SetHeaders は X-RateLimit-* と、拒否時の Retry-After を設定します。
// Retry-After は秒数で、切り上げます。
func SetHeaders(h http.Header, res Result) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", time.Now().Add(res.ResetAfter).UTC().Format(time.RFC3339))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(RetryAfterSeconds(res)))
	}
}

// RetryAfterSeconds はウィンドウ終了までの秒数を切り上げて返します。最小は 1 です。
func RetryAfterSeconds(res Result) int {
	secs := int(math.Ceil(res.ResetAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
