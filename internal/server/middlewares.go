package server

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/rs/xid"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"social-dm/internal/storage/zapadapter"
)

const maxBodyBytes = 1 << 20

// allowMethod answers 405 with an Allow header for anything but method
func allowMethod(method string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enforceGet(next http.Handler) http.Handler {
	return allowMethod(http.MethodGet, next)
}

// checkJSONContentType returns a non-zero status when the request declares a media type other than json.
// A blank header is taken as application/json.
func checkJSONContentType(r *http.Request) (int, string) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		r.Header.Set("Content-Type", "application/json")
		return 0, ""
	}

	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return http.StatusBadRequest, "Malformed Content-Type header"
	}
	if mt != "application/json" {
		return http.StatusUnsupportedMediaType, "Content-Type header must be application/json"
	}
	return 0, ""
}

// enforcePostJson admits POST requests carrying a bounded, well-formed json body.
// The body is buffered so handlers can read it again.
func enforcePostJson(next http.Handler) http.Handler {
	return allowMethod(http.MethodPost, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code, msg := checkJSONContentType(r); code != 0 {
			http.Error(w, msg, code)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "Request body is too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Can not read request body", http.StatusBadRequest)
			return
		}

		switch {
		case len(body) == 0:
			http.Error(w, "No body provided", http.StatusBadRequest)
			return
		case fastjson.ValidateBytes(body) != nil:
			http.Error(w, "Malformed JSON", http.StatusBadRequest)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	}))
}

// statusWriter remembers the response status. Hijack is passed through for websocket upgrades.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.status == 0 {
		sw.status = code
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	sw.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// log stamps every request with an xid stored in its context, the pgx logger reads it back.
// Only the path is logged since stream tokens may travel in the query.
func log(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := xid.New().String()
		start := time.Now()

		reqLogger := logger.With(
			zap.String("id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		reqLogger.Info("incoming http request", zap.String("ip", r.RemoteAddr))

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r.WithContext(zapadapter.NewContextWithID(r.Context(), id)))

		reqLogger.Debug("request finished",
			zap.Int("status", sw.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
