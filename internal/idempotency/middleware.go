package idempotency

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/hope-orderflow/internal/apperr"
	"github.com/imrishuroy/hope-orderflow/internal/auth"
	"github.com/imrishuroy/hope-orderflow/internal/aws"
	"go.uber.org/zap"
)

const (
	// HeaderKey carries the client-supplied idempotency key.
	HeaderKey = "Idempotency-Key"
	// HeaderReplayed is set on responses served from a stored record.
	HeaderReplayed = "Idempotent-Replayed"
)

// bodyWriter tees the response body so it can be stored after the handler returns.
type bodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware replays the stored response for a live Idempotency-Key and records the
// response of the first successful execution otherwise.
//
// A response is recorded only when the handler finished without attaching errors to the
// context and with a status below 500 other than 429, so failed or throttled attempts can be
// retried under the same key.
// Two concurrent first requests with one key may both run the handler; only one record wins.
func Middleware(store *Store, log *zap.Logger, metrics *aws.MetricsClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderKey)
		if key == "" {
			c.AbortWithStatusJSON(apperr.ErrMissingIdempotencyKey.Code, apperr.ErrMissingIdempotencyKey)
			return
		}

		ctx := c.Request.Context()
		method, path, userID := c.Request.Method, c.Request.URL.Path, auth.UserID(c)

		rec, err := store.Get(ctx, key)
		if err != nil {
			log.Error("idempotency lookup failed", zap.String("idempotency_key", key), zap.Error(err))
			e := apperr.Persistence("Idempotency lookup failed", err)
			c.AbortWithStatusJSON(e.Code, e)
			return
		}

		if rec != nil && rec.Expired(store.Now()) {
			if err := store.Delete(ctx, key, rec.ExpiresAt); err != nil {
				log.Warn("purge expired idempotency record", zap.String("idempotency_key", key), zap.Error(err))
			}
			rec = nil
		}

		if rec != nil {
			if !rec.Matches(method, path, userID) {
				c.AbortWithStatusJSON(apperr.ErrIdempotencyKeyReuse.Code, apperr.ErrIdempotencyKeyReuse)
				return
			}
			_ = metrics.RecordCount(ctx, aws.MetricIdempotentReplays, nil)
			c.Header(HeaderReplayed, "true")
			c.Data(rec.ResponseStatus, rec.ContentType, []byte(rec.ResponseBody))
			c.Abort()
			return
		}

		w := &bodyWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = w
		c.Next()

		status := w.Status()
		if len(c.Errors) > 0 || status >= 500 || status == http.StatusTooManyRequests {
			log.Debug("response not recorded", zap.String("idempotency_key", key), zap.Int("status", status))
			return
		}

		saved, err := store.Save(ctx, &Record{
			Key:            key,
			Method:         method,
			Path:           path,
			UserID:         userID,
			ResponseStatus: status,
			ResponseBody:   w.body.String(),
			ContentType:    w.Header().Get("Content-Type"),
		})
		switch {
		case err != nil:
			log.Error("record idempotent response", zap.String("idempotency_key", key), zap.Error(err))
		case !saved:
			log.Warn("idempotency key recorded by a concurrent request", zap.String("idempotency_key", key))
		}
	}
}
