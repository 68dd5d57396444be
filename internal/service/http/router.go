// Package httpsvc реализует HTTP/JSON API сервиса бронирования на echo.
package httpsvc

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessonbook/internal/service/api"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/idempotency"
)

// Заголовки идемпотентности.
const (
	HeaderIdempotencyKey     = "Idempotency-Key"
	HeaderIdempotentReplayed = "Idempotent-Replayed"
)

const maxBodyBytes = 1 << 20

// Options задаёт необязательные параметры роутера.
type Options struct {
	Logger      *log.Entry
	Guard       *idempotency.Guard
	ImagesDir   string
	CORSOrigins []string
}

// Option настраивает роутер.
type Option func(*Options)

// WithLogger задаёт logger запросов и ошибок.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithIdempotency включает обработку заголовка Idempotency-Key.
func WithIdempotency(guard *idempotency.Guard) Option {
	return func(opts *Options) {
		opts.Guard = guard
	}
}

// WithImagesDir включает раздачу картинок уроков из dir по /images/:name.
func WithImagesDir(dir string) Option {
	return func(opts *Options) {
		opts.ImagesDir = dir
	}
}

// WithCORSOrigins задаёт разрешённые origin. Пустой список означает "*".
func WithCORSOrigins(origins []string) Option {
	return func(opts *Options) {
		opts.CORSOrigins = origins
	}
}

type handler struct {
	coordinator api.Coordinator
	catalog     api.Catalog
	guard       *idempotency.Guard
	imagesDir   string
	logger      *log.Entry
}

// NewRouter собирает echo с middleware и маршрутами API.
func NewRouter(coordinator api.Coordinator, cat api.Catalog, options ...Option) *echo.Echo {
	var opts Options
	for _, option := range options {
		option(&opts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}

	h := &handler{
		coordinator: coordinator,
		catalog:     cat,
		guard:       opts.Guard,
		imagesDir:   opts.ImagesDir,
		logger:      logger,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = h.handleError

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAccept, HeaderIdempotencyKey},
	}))
	e.Use(middleware.BodyLimit("1M"))

	e.GET("/lessons", h.listLessons)
	e.GET("/lessons/:id", h.getLesson)
	e.PUT("/lessons/:id", h.updateLesson)
	e.GET("/search", h.listLessons)

	e.GET("/orders", h.listOrders)
	e.POST("/orders", h.createOrder)
	e.GET("/orders/:id", h.getOrder)
	e.POST("/orders/:id/cancel", h.cancelOrder)
	e.DELETE("/orders/:id", h.cancelOrder)

	if h.imagesDir != "" {
		e.GET("/images/:name", h.serveImage)
	}

	return e
}

func requestLogger(logger *log.Entry) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(log.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"remote_ip":  v.RemoteIP,
			})
			if v.Status >= http.StatusInternalServerError {
				entry.WithError(v.Error).Warn("http request failed")
				return nil
			}
			entry.Info("http request")
			return nil
		},
	})
}

// handleError отвечает JSON-телом для ошибок роутинга и необработанных ошибок.
func (h *handler) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok && msg != "" {
			message = msg
		}
		code := strings.ReplaceAll(strings.ToLower(http.StatusText(he.Code)), " ", "_")
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(he.Code)
			return
		}
		_ = c.JSON(he.Code, api.ErrorBody{Error: message, Code: code})
		return
	}

	_ = h.fail(c, err)
}

// fail отвечает ошибкой сервиса.
func (h *handler) fail(c echo.Context, err error) error {
	status, body := h.errorResponse(err)
	return c.JSON(status, body)
}

func (h *handler) errorResponse(err error) (int, api.ErrorBody) {
	body := api.Classify(err)
	status := StatusFor(body.Code)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("code", body.Code).Error("request failed")
	}
	return status, body
}

// StatusFor возвращает HTTP-статус для кода ошибки.
func StatusFor(code string) int {
	switch code {
	case api.CodeInvalidInput:
		return http.StatusBadRequest
	case api.CodeLessonNotFound, api.CodeOrderNotFound:
		return http.StatusNotFound
	case api.CodeCapacityExceeded, api.CodeAlreadyCancelled,
		api.CodeIdempotencyMismatch, api.CodeIdempotencyInProgress:
		return http.StatusConflict
	case api.CodeDirectCapacityEdit:
		return http.StatusForbidden
	case api.CodePersistFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
