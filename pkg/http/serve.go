package xhttp

import (
	"os"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"time"

	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

// env list:
// XHTTP_SERVER_READ_TIMEOUT (ms)
// XHTTP_SERVER_WRITE_TIMEOUT (ms)
// XHTTP_SERVER_REQUEST_TIMEOUT (ms)

var (
	defaultReadBufferSize  = 1024 * 4
	defaultWriteBufferSize = 1024 * 4
	defaultReadTimeout     = time.Millisecond * 2500
	defaultWriteTimeout    = time.Millisecond * 2500
	defaultRequestTimeout  = time.Millisecond * 5000
)

func init() {
	defaultReadTimeout = envMillis("XHTTP_SERVER_READ_TIMEOUT", defaultReadTimeout)
	defaultWriteTimeout = envMillis("XHTTP_SERVER_WRITE_TIMEOUT", defaultWriteTimeout)
	defaultRequestTimeout = envMillis("XHTTP_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout)
}

func envMillis(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" || raw == "0" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return time.Millisecond * time.Duration(v)
}

var DefaultServerOption = ServerOption{
	IdleTimeout:           time.Second * 10,
	MaxIdleWorkerDuration: time.Minute * 1,
	TCPKeepalivePeriod:    time.Minute * 120, // linux default
	MaxRequestBodySize:    4 * 1024 * 1024,   // 4MB
	RequestTimeout:        defaultRequestTimeout,
	ReadBufferSize:        defaultReadBufferSize,
	WriteBufferSize:       defaultWriteBufferSize,
	ReadTimeout:           defaultReadTimeout,
	WriteTimeout:          defaultWriteTimeout,
	Concurrency:           30_000,
	MaxConnsPerIP:         10_000,
}

type Server = fasthttp.Server

type ServerOption struct {
	Name string

	// idle keep-alive connections are closed after this long, otherwise a busy
	// node runs out of file descriptors
	IdleTimeout time.Duration

	MaxIdleWorkerDuration time.Duration
	TCPKeepalivePeriod    time.Duration

	MaxRequestBodySize int

	// RequestTimeout bounds a single handler invocation, see TimeoutMiddleware
	RequestTimeout time.Duration

	// ReadBufferSize also caps the request header size
	ReadBufferSize  int
	WriteBufferSize int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration

	Concurrency   int
	MaxConnsPerIP int
}

type Engine struct {
	*Router
	*Server
	option ServerOption
	middle []MiddlewareFunc
}

func newServer(options ServerOption) *fasthttp.Server {
	return &fasthttp.Server{
		Name:                         options.Name,
		Concurrency:                  options.Concurrency,
		ReadBufferSize:               options.ReadBufferSize,
		WriteBufferSize:              options.WriteBufferSize,
		ReadTimeout:                  options.ReadTimeout,
		WriteTimeout:                 options.WriteTimeout,
		IdleTimeout:                  options.IdleTimeout,
		MaxConnsPerIP:                options.MaxConnsPerIP,
		MaxIdleWorkerDuration:        options.MaxIdleWorkerDuration,
		TCPKeepalivePeriod:           options.TCPKeepalivePeriod,
		MaxRequestBodySize:           options.MaxRequestBodySize,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		NoDefaultServerHeader:        true,
		NoDefaultContentType:         true,
		CloseOnShutdown:              true,
		Logger:                       logger.GetLogger(),
		ErrorHandler: func(ctx *RequestCtx, err error) {
			logger.Warn("[xhttp] connection error", "error", err, "ip", ctx.RemoteIP().String())
		},
	}
}

func NewServer(options ServerOption) *Engine {
	return &Engine{
		Server: newServer(options),
		Router: NewRouter(),
		option: options,
	}
}

func CreateServer() *Engine {
	s := NewServer(DefaultServerOption)
	s.Router = CreateDefaultRouter()
	return s
}

// Handler builds the final handler: router wrapped by the registered
// middlewares, first registered runs first.
func (e *Engine) Handler() RequestHandler {
	h := e.Router.Handler
	chain := slices.Clone(e.middle)
	slices.Reverse(chain)
	for _, m := range chain {
		h = m(h)
	}
	return h
}

func (e *Engine) ListenAndServe(addr string) error {
	e.DoRouting()
	logger.Info("[xhttp] server is listening", "addr", addr)
	return e.Server.ListenAndServe(addr)
}

func (e *Engine) DoRouting() {
	for method, route := range e.Router.List() {
		for _, r := range route {
			logger.Debug("[xhttp] route registered", "method", method, "path", r)
		}
	}
	for i, m := range e.middle {
		logger.Debug("[xhttp] middleware registered", "position", i+1, "name", runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
	e.Server.Handler = e.Handler()
}

// Use adds middleware to the chain which is run for every request.
func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

// Shutdown gracefully shuts down the server without interrupting any active connections.
func (e *Engine) Shutdown() {
	logger.Info("[xhttp] server is shutting down", "pid", os.Getpid())
	if err := e.Server.Shutdown(); err != nil {
		logger.Error("[xhttp] error while shutting down", "error", err)
	}
}
