package httpsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/api"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/idempotency"
)

func (h *handler) listLessons(c echo.Context) error {
	query, err := lessonQueryFrom(c)
	if err != nil {
		return h.fail(c, err)
	}

	lessons, err := h.catalog.ListLessons(c.Request().Context(), query)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, api.FromLessons(lessons))
}

// lessonQueryFrom читает параметры search (или q), min_spaces, date, sort и order.
func lessonQueryFrom(c echo.Context) (domain.LessonQuery, error) {
	query := domain.LessonQuery{
		Search:  c.QueryParam("search"),
		Date:    c.QueryParam("date"),
		SortBy:  c.QueryParam("sort"),
		SortDir: domain.SortDirection(c.QueryParam("order")),
	}
	if query.Search == "" {
		query.Search = c.QueryParam("q")
	}

	if raw := c.QueryParam("min_spaces"); raw != "" {
		minSpaces, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return domain.LessonQuery{}, fmt.Errorf("%w: min_spaces must be an integer", domain.ErrInvalidInput)
		}
		query.MinSpaces = int32(minSpaces)
	}
	return query, nil
}

func (h *handler) getLesson(c echo.Context) error {
	lesson, err := h.catalog.GetLesson(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, api.FromLesson(lesson))
}

func (h *handler) updateLesson(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return h.fail(c, err)
	}

	var req api.LessonPatchRequest
	if err := api.DecodeStrict(body, &req); err != nil {
		return h.fail(c, err)
	}

	lesson, err := h.catalog.UpdateLesson(c.Request().Context(), c.Param("id"), req.ToPatch())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, api.FromLesson(lesson))
}

func (h *handler) listOrders(c echo.Context) error {
	query := domain.OrderQuery{
		Status:  domain.OrderStatus(c.QueryParam("status")),
		SortBy:  c.QueryParam("sort"),
		SortDir: domain.SortDirection(c.QueryParam("order")),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return h.fail(c, fmt.Errorf("%w: limit must be an integer", domain.ErrInvalidInput))
		}
		query.Limit = limit
	}

	orders, err := h.catalog.ListOrders(c.Request().Context(), query)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, api.FromOrders(orders))
}

func (h *handler) getOrder(c echo.Context) error {
	view, err := h.catalog.GetOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, api.FromOrderView(view))
}

func (h *handler) createOrder(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return h.fail(c, err)
	}

	return h.idempotent(c, "POST /orders", body, func(ctx context.Context) idempotency.Response {
		var req api.CreateOrderRequest
		if err := api.DecodeStrict(body, &req); err != nil {
			return h.failure(err)
		}

		order, err := h.coordinator.CreateOrder(ctx, req.ToInput())
		if err != nil {
			return h.failure(err)
		}
		return h.success(http.StatusCreated, api.FromOrder(order))
	})
}

// cancelOrder обслуживает POST /orders/:id/cancel и DELETE /orders/:id;
// хеш запроса у обоих маршрутов общий.
func (h *handler) cancelOrder(c echo.Context) error {
	orderID := c.Param("id")

	return h.idempotent(c, "POST /orders/"+orderID+"/cancel", nil, func(ctx context.Context) idempotency.Response {
		order, err := h.coordinator.CancelOrder(ctx, orderID)
		if err != nil {
			return h.failure(err)
		}
		return h.success(http.StatusOK, api.FromOrder(order))
	})
}

// idempotent выполняет run под ключом из заголовка Idempotency-Key и пишет ответ.
func (h *handler) idempotent(c echo.Context, method string, body []byte, run func(context.Context) idempotency.Response) error {
	key := c.Request().Header.Get(HeaderIdempotencyKey)

	resp, replayed, err := h.guard.Do(c.Request().Context(), key, idempotency.HashRequest(method, body), run)
	if err != nil {
		return h.fail(c, err)
	}
	if replayed {
		c.Response().Header().Set(HeaderIdempotentReplayed, "true")
	}
	return c.JSONBlob(resp.Code, resp.Body)
}

func (h *handler) success(status int, payload any) idempotency.Response {
	data, err := json.Marshal(payload)
	if err != nil {
		return h.failure(fmt.Errorf("marshal response: %w", err))
	}
	return idempotency.Response{Code: status, Body: data}
}

func (h *handler) failure(err error) idempotency.Response {
	status, body := h.errorResponse(err)
	data, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		data = []byte(`{"error":"internal error","code":"internal"}`)
	}
	return idempotency.Response{Code: status, Body: data, Failed: true}
}

func (h *handler) serveImage(c echo.Context) error {
	name := c.Param("name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return c.JSON(http.StatusNotFound, api.ErrorBody{Error: "image not found", Code: "image_not_found"})
	}

	path := filepath.Join(h.imagesDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return c.JSON(http.StatusNotFound, api.ErrorBody{Error: "image not found", Code: "image_not_found"})
	}
	return c.File(path)
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrInvalidInput, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: request body is too large", domain.ErrInvalidInput)
	}
	return body, nil
}
