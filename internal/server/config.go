package server

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"social-dm/internal/auth"
)

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// config defines fields used for configuring Server instance
type config struct {
	httpServer *http.Server
	h          *handler
	// handlers are request/response endpoints, streams are hijacked by the websocket upgrade
	// and must never be wrapped in http.TimeoutHandler
	handlers      map[string]http.Handler
	streams       map[string]http.Handler
	afterShutdown []func()
}

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port uint16 `env:"PORT" envDefault:"9000"`
	// JWTSecret enables token verification of stream identities when set
	JWTSecret string        `env:"JWT_SECRET"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`
	// StreamWriteTimeout bounds a single frame write to a client
	StreamWriteTimeout time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	AllowedOrigins     []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
}

// WithEnvConfig enables processing exported EnvConfig struct to acts as a source of config parameters for http.Server
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(c *config) {
		c.httpServer.Addr = cfg.Host + ":" + strconv.FormatUint(uint64(cfg.Port), 10)
		c.h.verifier = auth.NewVerifier(cfg.JWTSecret, cfg.JWTTTL)
		if cfg.StreamWriteTimeout > 0 {
			c.h.writeTimeout = cfg.StreamWriteTimeout
		}
		c.h.origins = cfg.AllowedOrigins
	})
}

// WithVerifier requires every stream to present a token issued by v
func WithVerifier(v *auth.Verifier) Option {
	return optionFunc(func(c *config) {
		c.h.verifier = v
	})
}

// ReadTimeout sets read timeout for http.Server
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.httpServer.ReadTimeout = d
	})
}

// StreamWriteTimeout sets the deadline of every frame written to a websocket client
func StreamWriteTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.h.writeTimeout = d
	})
}

// RegisterAfterShutdown registers a function to call after http.Server shutdown
// f will not be called in separated goroutine
func RegisterAfterShutdown(f func()) Option {
	return optionFunc(func(c *config) {
		c.afterShutdown = append(c.afterShutdown, f)
	})
}

// registerHandlers registers every handler and stream for newly initialized http.ServeMux
// that http.ServeMux is used as a http.Handler for http.Server in config struct
func registerHandlers() Option {
	return optionFunc(func(c *config) {
		mux := http.NewServeMux()
		for pattern, h := range c.handlers {
			mux.Handle(pattern, h)
		}
		for pattern, h := range c.streams {
			mux.Handle(pattern, h)
		}
		c.httpServer.Handler = mux
	})
}

// applyLog wraps each http.Handler in handlers and streams maps with log middleware
func applyLog(logger *zap.Logger) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = log(h, logger)
		}
		for pattern, h := range c.streams {
			c.streams[pattern] = log(h, logger)
		}
	})
}

// TimeoutHandler wraps each handler in handlers map in http.TimeoutHandler with provided duration and message
func TimeoutHandler(d time.Duration, msg string) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.handlers {
			c.handlers[pattern] = http.TimeoutHandler(h, d, msg)
		}
	})
}
