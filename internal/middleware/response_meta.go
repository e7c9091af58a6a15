package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/pkg/middleware/requestid"
)

const (
	responseMetaKey   = "response_meta"
	requestStartKey   = "request_start"
	cacheHitKey       = "cache_hit"
	processingMSKey   = "processing_time_ms"
	cacheStatusHeader = "X-Cache"
)

// WithResponseMeta starts the per-request metadata that handlers attach to the response envelope.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestStartKey, time.Now())
		meta := map[string]interface{}{}
		if id := requestid.Value(c); id != "" {
			meta["request_id"] = id
		}
		c.Set(responseMetaKey, meta)
		c.Next()
	}
}

// SetCacheHit records whether the payload was served from cache and mirrors it in X-Cache.
func SetCacheHit(c *gin.Context, hit bool) {
	ensureMeta(c)[cacheHitKey] = hit
	status := "MISS"
	if hit {
		status = "HIT"
	}
	c.Header(cacheStatusHeader, status)
}

// ExtractMeta returns a snapshot of the response metadata with the elapsed processing time.
// It returns nil when WithResponseMeta is not installed.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	stored, ok := c.Get(responseMetaKey)
	if !ok {
		return nil
	}
	meta, _ := stored.(map[string]interface{})
	out := make(map[string]interface{}, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	if start, ok := c.Get(requestStartKey); ok {
		if ts, ok := start.(time.Time); ok {
			out[processingMSKey] = time.Since(ts).Milliseconds()
		}
	}
	return out
}

func ensureMeta(c *gin.Context) map[string]interface{} {
	if stored, ok := c.Get(responseMetaKey); ok {
		if meta, ok := stored.(map[string]interface{}); ok {
			return meta
		}
	}
	meta := map[string]interface{}{}
	c.Set(responseMetaKey, meta)
	return meta
}
