package grpcsvc

import (
	"context"
	"net"
	"testing"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/booking"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/catalog"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/idempotency"
	"github.com/vladislavdragonenkov/lessonbook/internal/storage/memory"
)

type testEnv struct {
	client   *Client
	conn     *grpc.ClientConn
	store    *memory.Store
	registry *prometheus.Registry
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "grpc-test")
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore()
	for _, lesson := range []domain.Lesson{
		{ID: "L1", Subject: "Math", Location: "London", PriceMinor: 1500, Spaces: 5},
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
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), time.Hour, quietLogger())

	registry := prometheus.NewRegistry()
	serverMetrics := promgrpc.NewServerMetrics()
	registry.MustRegister(serverMetrics)

	server, _ := NewServer(NewBookingService(coordinator, cat, guard, quietLogger()), serverMetrics)

	listener := bufconn.Listen(1 << 20)
	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testEnv{client: NewClient(conn), conn: conn, store: store, registry: registry}
}

func (e *testEnv) spaces(t *testing.T, lessonID string) int32 {
	t.Helper()
	lesson, err := e.store.Lessons().Get(context.Background(), lessonID)
	require.NoError(t, err)
	return lesson.Spaces
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	st, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return st
}

func orderRequest(t *testing.T, lessonID string, units int) *structpb.Struct {
	return mustStruct(t, map[string]any{
		"customer_name":  "Alice",
		"customer_phone": "0123456789",
		"items":          []any{map[string]any{"lesson_id": lessonID, "units": units}},
	})
}

func errorInfo(t *testing.T, err error) *errdetails.ErrorInfo {
	t.Helper()
	st, ok := status.FromError(err)
	require.True(t, ok)
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok {
			return info
		}
	}
	t.Fatalf("status %v has no ErrorInfo", st)
	return nil
}

func TestBookingService_CreateAndCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order, err := env.client.CreateOrder(ctx, orderRequest(t, "L1", 2))
	require.NoError(t, err)
	assert.Equal(t, "active", order.GetFields()["status"].GetStringValue())
	assert.Equal(t, 3000.0, order.GetFields()["total"].GetNumberValue())
	assert.Equal(t, int32(3), env.spaces(t, "L1"))

	orderID := order.GetFields()["id"].GetStringValue()
	req := mustStruct(t, map[string]any{"order_id": orderID})

	details, err := env.client.GetOrder(ctx, req)
	require.NoError(t, err)
	assert.Len(t, details.GetFields()["timeline"].GetListValue().GetValues(), 1)

	cancelled, err := env.client.CancelOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", cancelled.GetFields()["status"].GetStringValue())
	assert.Equal(t, int32(5), env.spaces(t, "L1"))

	_, err = env.client.CancelOrder(ctx, req)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, int32(5), env.spaces(t, "L1"))
}

func TestBookingService_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.client.CreateOrder(ctx, orderRequest(t, "L2", 1))
	require.Equal(t, codes.ResourceExhausted, status.Code(err))
	info := errorInfo(t, err)
	assert.Equal(t, "capacity_exceeded", info.GetReason())
	assert.Equal(t, "L2", info.GetMetadata()["lesson_id"])

	_, err = env.client.CreateOrder(ctx, mustStruct(t, map[string]any{"customer_name": "Alice"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.client.CreateOrder(ctx, mustStruct(t, map[string]any{"unexpected": true}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.client.CancelOrder(ctx, mustStruct(t, map[string]any{"order_id": "missing"}))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = env.client.GetLesson(ctx, mustStruct(t, map[string]any{"lesson_id": "missing"}))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = env.client.ListLessons(ctx, mustStruct(t, map[string]any{"sort": "popularity"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestBookingService_Idempotency(t *testing.T) {
	env := newTestEnv(t)
	ctx := WithIdempotencyKey(context.Background(), "key-1")

	first, err := env.client.CreateOrder(ctx, orderRequest(t, "L1", 2))
	require.NoError(t, err)
	second, err := env.client.CreateOrder(ctx, orderRequest(t, "L1", 2))
	require.NoError(t, err)
	assert.Equal(t, first.GetFields()["id"].GetStringValue(), second.GetFields()["id"].GetStringValue())
	assert.Equal(t, int32(3), env.spaces(t, "L1"))

	_, err = env.client.CreateOrder(ctx, orderRequest(t, "L1", 1))
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	failCtx := WithIdempotencyKey(context.Background(), "key-2")
	_, err = env.client.CreateOrder(failCtx, orderRequest(t, "L2", 1))
	require.Equal(t, codes.ResourceExhausted, status.Code(err))

	require.NoError(t, env.store.Lessons().Upsert(context.Background(), domain.Lesson{ID: "L2", Subject: "Art", Location: "Oxford", PriceMinor: 800, Spaces: 5}))
	_, err = env.client.CreateOrder(failCtx, orderRequest(t, "L2", 1))
	assert.Equal(t, codes.ResourceExhausted, status.Code(err), "stored failure is replayed")
	assert.Equal(t, "L2", errorInfo(t, err).GetMetadata()["lesson_id"])
	assert.Equal(t, int32(5), env.spaces(t, "L2"))
}

func TestBookingService_Queries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.client.CreateOrder(ctx, orderRequest(t, "L1", 1))
	require.NoError(t, err)

	lessons, err := env.client.ListLessons(ctx, mustStruct(t, map[string]any{"min_spaces": 1}))
	require.NoError(t, err)
	values := lessons.GetFields()["lessons"].GetListValue().GetValues()
	require.Len(t, values, 1)
	assert.Equal(t, "L1", values[0].GetStructValue().GetFields()["id"].GetStringValue())

	lesson, err := env.client.GetLesson(ctx, mustStruct(t, map[string]any{"lesson_id": "L1"}))
	require.NoError(t, err)
	assert.Equal(t, 4.0, lesson.GetFields()["spaces"].GetNumberValue())

	orders, err := env.client.ListOrders(ctx, mustStruct(t, map[string]any{"status": "active", "limit": 5}))
	require.NoError(t, err)
	assert.Len(t, orders.GetFields()["orders"].GetListValue().GetValues(), 1)
}

func TestBookingService_HealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := healthpb.NewHealthClient(env.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	_, err = env.client.GetLesson(ctx, mustStruct(t, map[string]any{"lesson_id": "L1"}))
	require.NoError(t, err)

	families, err := env.registry.Gather()
	require.NoError(t, err)
	var handled float64
	for _, family := range families {
		if family.GetName() != "grpc_server_handled_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			handled += m.GetCounter().GetValue()
		}
	}
	assert.GreaterOrEqual(t, handled, 1.0)
}

func TestServiceDescriptorRegistered(t *testing.T) {
	desc, err := protoregistry.GlobalFiles.FindDescriptorByName(ServiceName)
	require.NoError(t, err)
	assert.Equal(t, ServiceName, string(desc.FullName()))
	assert.Len(t, ServiceDesc.Methods, 6)
}

func TestCodeFor(t *testing.T) {
	assert.Equal(t, codes.InvalidArgument, CodeFor("invalid_input"))
	assert.Equal(t, codes.NotFound, CodeFor("order_not_found"))
	assert.Equal(t, codes.ResourceExhausted, CodeFor("capacity_exceeded"))
	assert.Equal(t, codes.FailedPrecondition, CodeFor("order_already_cancelled"))
	assert.Equal(t, codes.PermissionDenied, CodeFor("direct_capacity_edit"))
	assert.Equal(t, codes.Unavailable, CodeFor("persist_failure"))
	assert.Equal(t, codes.Internal, CodeFor("whatever"))
}
