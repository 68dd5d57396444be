package httpsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/api"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/booking"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/catalog"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/idempotency"
	"github.com/vladislavdragonenkov/lessonbook/internal/storage/memory"
)

type testServer struct {
	echo  *echo.Echo
	store *memory.Store
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "http-test")
}

func newTestServer(t *testing.T, extra ...Option) *testServer {
	t.Helper()

	store := memory.NewStore()
	for _, lesson := range []domain.Lesson{
		{ID: "L1", Subject: "Math", Location: "London", PriceMinor: 1500, Spaces: 5, Date: "2026-03-01"},
		{ID: "L2", Subject: "Art", Location: "Oxford", PriceMinor: 800, Spaces: 0},
	} {
		require.NoError(t, store.Lessons().Upsert(context.Background(), lesson))
	}

	coordinator := booking.NewCoordinator(store.Capacity(), store.Orders(), store,
		booking.WithLogger(quietLogger()),
		booking.WithTimeline(),
	)
	cat := catalog.NewService(store.Lessons(), store.Orders(),
		catalog.WithLogger(quietLogger()),
		catalog.WithTimeline(store.Timeline()),
	)

	opts := append([]Option{
		WithLogger(quietLogger()),
		WithIdempotency(idempotency.NewGuard(memory.NewIdempotencyRepository(), time.Hour, quietLogger())),
	}, extra...)

	return &testServer{echo: NewRouter(coordinator, cat, opts...), store: store}
}

func (s *testServer) do(t *testing.T, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) spaces(t *testing.T, lessonID string) int32 {
	t.Helper()
	lesson, err := s.store.Lessons().Get(context.Background(), lessonID)
	require.NoError(t, err)
	return lesson.Spaces
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const aliceOrder = `{"customer_name":"Alice","customer_phone":"0123456789","items":[{"lesson_id":"L1","units":2}]}`

func TestRouter_CreateAndCancelOrder(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/orders", aliceOrder, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	order := decode[api.Order](t, rec)
	assert.Equal(t, "active", order.Status)
	assert.Equal(t, int64(3000), order.Total)
	assert.Equal(t, int32(3), srv.spaces(t, "L1"))

	rec = srv.do(t, http.MethodGet, "/orders/"+order.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decode[api.OrderDetails](t, rec)
	require.Len(t, details.Timeline, 1)
	assert.Equal(t, domain.TimelineOrderPlaced, details.Timeline[0].Type)

	rec = srv.do(t, http.MethodPost, "/orders/"+order.ID+"/cancel", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode[api.Order](t, rec).Status)
	assert.Equal(t, int32(5), srv.spaces(t, "L1"))

	rec = srv.do(t, http.MethodPost, "/orders/"+order.ID+"/cancel", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, api.CodeAlreadyCancelled, decode[api.ErrorBody](t, rec).Code)
	assert.Equal(t, int32(5), srv.spaces(t, "L1"))
}

func TestRouter_DeleteOrderCancels(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/orders", aliceOrder, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[api.Order](t, rec)
	assert.Equal(t, int32(3), srv.spaces(t, "L1"))

	rec = srv.do(t, http.MethodDelete, "/orders/"+order.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode[api.Order](t, rec).Status)
	assert.Equal(t, int32(5), srv.spaces(t, "L1"))

	rec = srv.do(t, http.MethodDelete, "/orders/"+order.ID, "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, api.CodeAlreadyCancelled, decode[api.ErrorBody](t, rec).Code)

	rec = srv.do(t, http.MethodDelete, "/orders/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int32(5), srv.spaces(t, "L1"))
}

func TestRouter_CreateOrderErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name     string
		body     string
		status   int
		code     string
		lessonID string
	}{
		{
			name:   "missing name",
			body:   `{"customer_phone":"1","items":[{"lesson_id":"L1","units":1}]}`,
			status: http.StatusBadRequest,
			code:   api.CodeInvalidInput,
		},
		{
			name:   "malformed json",
			body:   `{"customer_name":`,
			status: http.StatusBadRequest,
			code:   api.CodeInvalidInput,
		},
		{
			name:   "unknown field",
			body:   `{"customer_name":"A","customer_phone":"1","items":[],"coupon":"x"}`,
			status: http.StatusBadRequest,
			code:   api.CodeInvalidInput,
		},
		{
			name:     "no spaces left",
			body:     `{"customer_name":"Bob","customer_phone":"1","items":[{"lesson_id":"L1","units":2},{"lesson_id":"L2","units":1}]}`,
			status:   http.StatusConflict,
			code:     api.CodeCapacityExceeded,
			lessonID: "L2",
		},
		{
			name:     "unknown lesson",
			body:     `{"customer_name":"Bob","customer_phone":"1","items":[{"lesson_id":"nope","units":1}]}`,
			status:   http.StatusConflict,
			code:     api.CodeCapacityExceeded,
			lessonID: "nope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/orders", tt.body, nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode[api.ErrorBody](t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.lessonID, body.LessonID)
		})
	}

	assert.Equal(t, int32(5), srv.spaces(t, "L1"), "failed attempts must not leak seats")
}

func TestRouter_IdempotentCreate(t *testing.T) {
	srv := newTestServer(t)
	headers := map[string]string{HeaderIdempotencyKey: "order-key-1"}

	first := srv.do(t, http.MethodPost, "/orders", aliceOrder, headers)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(HeaderIdempotentReplayed))

	second := srv.do(t, http.MethodPost, "/orders", aliceOrder, headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(HeaderIdempotentReplayed))
	assert.Equal(t, decode[api.Order](t, first).ID, decode[api.Order](t, second).ID)
	assert.Equal(t, int32(3), srv.spaces(t, "L1"), "replay must not reserve again")

	other := strings.Replace(aliceOrder, `"units":2`, `"units":1`, 1)
	mismatch := srv.do(t, http.MethodPost, "/orders", other, headers)
	assert.Equal(t, http.StatusConflict, mismatch.Code)
	assert.Equal(t, api.CodeIdempotencyMismatch, decode[api.ErrorBody](t, mismatch).Code)
}

func TestRouter_Lessons(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/lessons?sort=price&order=desc", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lessons := decode[[]api.Lesson](t, rec)
	require.Len(t, lessons, 2)
	assert.Equal(t, "L1", lessons[0].ID)

	rec = srv.do(t, http.MethodGet, "/search?q=oxf", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lessons = decode[[]api.Lesson](t, rec)
	require.Len(t, lessons, 1)
	assert.Equal(t, "L2", lessons[0].ID)

	rec = srv.do(t, http.MethodGet, "/lessons?min_spaces=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.Lesson](t, rec), 1)

	rec = srv.do(t, http.MethodGet, "/lessons?min_spaces=many", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/lessons?sort=popularity", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/lessons/L1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1500), decode[api.Lesson](t, rec).Price)

	rec = srv.do(t, http.MethodGet, "/lessons/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, api.CodeLessonNotFound, decode[api.ErrorBody](t, rec).Code)
}

func TestRouter_UpdateLesson(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPut, "/lessons/L1", `{"title":"Algebra","price":2000}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	lesson := decode[api.Lesson](t, rec)
	assert.Equal(t, "Algebra", lesson.Title)
	assert.Equal(t, int64(2000), lesson.Price)

	rec = srv.do(t, http.MethodPut, "/lessons/L1", `{"spaces":100}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, api.CodeDirectCapacityEdit, decode[api.ErrorBody](t, rec).Code)
	assert.Equal(t, int32(5), srv.spaces(t, "L1"))

	rec = srv.do(t, http.MethodPut, "/lessons/L1", `{"subject":"Physics"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_ListOrders(t *testing.T) {
	srv := newTestServer(t)

	require.Equal(t, http.StatusCreated, srv.do(t, http.MethodPost, "/orders", aliceOrder, nil).Code)

	rec := srv.do(t, http.MethodGet, "/orders?status=active&sort=total&limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.Order](t, rec), 1)

	rec = srv.do(t, http.MethodGet, "/orders?limit=ten", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/orders/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, api.CodeOrderNotFound, decode[api.ErrorBody](t, rec).Code)
}

func TestRouter_Images(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "math.png"), []byte("png-bytes"), 0o600))

	srv := newTestServer(t, WithImagesDir(dir))

	rec := srv.do(t, http.MethodGet, "/images/math.png", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes", rec.Body.String())

	rec = srv.do(t, http.MethodGet, "/images/missing.png", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/images/.hidden", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_UnknownRouteAndCORS(t *testing.T) {
	srv := newTestServer(t, WithCORSOrigins([]string{"https://lessons.example"}))

	rec := srv.do(t, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[api.ErrorBody](t, rec).Code)

	rec = srv.do(t, http.MethodGet, "/lessons", "", map[string]string{echo.HeaderOrigin: "https://lessons.example"})
	assert.Equal(t, "https://lessons.example", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(api.CodeInvalidInput))
	assert.Equal(t, http.StatusNotFound, StatusFor(api.CodeOrderNotFound))
	assert.Equal(t, http.StatusConflict, StatusFor(api.CodeCapacityExceeded))
	assert.Equal(t, http.StatusConflict, StatusFor(api.CodeAlreadyCancelled))
	assert.Equal(t, http.StatusForbidden, StatusFor(api.CodeDirectCapacityEdit))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(api.CodePersistFailure))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(api.CodeInternal))
}
