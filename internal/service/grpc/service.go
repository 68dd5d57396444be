// Package grpcsvc реализует gRPC API booking.v1.BookingService поверх координатора и каталога.
package grpcsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/api"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/idempotency"
)

// IdempotencyKeyHeader — ключ metadata для идемпотентных вызовов.
const IdempotencyKeyHeader = "idempotency-key"

const errorDomain = "booking.v1"

type orderIDRequest struct {
	OrderID string `json:"order_id"`
}

type lessonIDRequest struct {
	LessonID string `json:"lesson_id"`
}

type listLessonsRequest struct {
	Search    string `json:"search"`
	MinSpaces int32  `json:"min_spaces"`
	Date      string `json:"date"`
	Sort      string `json:"sort"`
	Order     string `json:"order"`
}

type listOrdersRequest struct {
	Status string `json:"status"`
	Sort   string `json:"sort"`
	Order  string `json:"order"`
	Limit  int    `json:"limit"`
}

type failurePayload struct {
	Code     int32  `json:"code"`
	Message  string `json:"message"`
	Reason   string `json:"reason"`
	LessonID string `json:"lesson_id,omitempty"`
}

// BookingService реализует BookingServer.
type BookingService struct {
	coordinator api.Coordinator
	catalog     api.Catalog
	guard       *idempotency.Guard
	logger      *log.Entry
}

// NewBookingService создаёт gRPC-сервис. guard может быть nil.
func NewBookingService(coordinator api.Coordinator, catalog api.Catalog, guard *idempotency.Guard, logger *log.Entry) *BookingService {
	if logger == nil {
		logger = log.WithField("component", "grpc")
	}
	return &BookingService{
		coordinator: coordinator,
		catalog:     catalog,
		guard:       guard,
		logger:      logger,
	}
}

// CreateOrder резервирует места и создаёт заказ.
func (s *BookingService) CreateOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in api.CreateOrderRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, s.toStatus(err)
	}

	return s.idempotent(ctx, MethodCreateOrder, req, func(ctx context.Context) (any, error) {
		order, err := s.coordinator.CreateOrder(ctx, in.ToInput())
		if err != nil {
			return nil, err
		}
		return api.FromOrder(order), nil
	})
}

// CancelOrder отменяет заказ и возвращает места.
func (s *BookingService) CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in orderIDRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, s.toStatus(err)
	}

	return s.idempotent(ctx, MethodCancelOrder, req, func(ctx context.Context) (any, error) {
		order, err := s.coordinator.CancelOrder(ctx, in.OrderID)
		if err != nil {
			return nil, err
		}
		return api.FromOrder(order), nil
	})
}

// GetOrder возвращает заказ с timeline.
func (s *BookingService) GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in orderIDRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, s.toStatus(err)
	}

	view, err := s.catalog.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.respond(api.FromOrderView(view))
}

// ListOrders возвращает заказы: {"orders": [...]}.
func (s *BookingService) ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in listOrdersRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, s.toStatus(err)
	}

	orders, err := s.catalog.ListOrders(ctx, domain.OrderQuery{
		Status:  domain.OrderStatus(in.Status),
		SortBy:  in.Sort,
		SortDir: domain.SortDirection(in.Order),
		Limit:   in.Limit,
	})
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.respond(map[string]any{"orders": api.FromOrders(orders)})
}

// GetLesson возвращает урок.
func (s *BookingService) GetLesson(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in lessonIDRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, s.toStatus(err)
	}

	lesson, err := s.catalog.GetLesson(ctx, in.LessonID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.respond(api.FromLesson(lesson))
}

// ListLessons возвращает уроки: {"lessons": [...]}.
func (s *BookingService) ListLessons(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in listLessonsRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, s.toStatus(err)
	}

	lessons, err := s.catalog.ListLessons(ctx, domain.LessonQuery{
		Search:    in.Search,
		MinSpaces: in.MinSpaces,
		Date:      in.Date,
		SortBy:    in.Sort,
		SortDir:   domain.SortDirection(in.Order),
	})
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.respond(map[string]any{"lessons": api.FromLessons(lessons)})
}

// idempotent выполняет run под ключом из metadata idempotency-key.
// Сохраняется и успешный ответ, и ошибка с её gRPC-кодом.
func (s *BookingService) idempotent(ctx context.Context, method string, req *structpb.Struct, run func(context.Context) (any, error)) (*structpb.Struct, error) {
	hash, err := requestHash(method, req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	resp, replayed, err := s.guard.Do(ctx, readIdempotencyKey(ctx), hash, func(ctx context.Context) idempotency.Response {
		payload, runErr := run(ctx)
		if runErr != nil {
			return s.failure(runErr)
		}
		data, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return s.failure(fmt.Errorf("marshal response: %w", marshalErr))
		}
		return idempotency.Response{Code: int(codes.OK), Body: data}
	})
	if err != nil {
		return nil, s.toStatus(err)
	}
	if replayed {
		s.logger.WithField("method", method).Debug("idempotent response replayed")
	}

	if resp.Failed {
		return nil, decodeFailure(resp)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(resp.Body, out); err != nil {
		return nil, status.Error(codes.Internal, "failed to decode response")
	}
	return out, nil
}

func (s *BookingService) failure(err error) idempotency.Response {
	body := api.Classify(err)
	code := CodeFor(body.Code)
	if code == codes.Internal || code == codes.Unavailable {
		s.logger.WithError(err).WithField("code", body.Code).Error("request failed")
	}

	data, marshalErr := json.Marshal(failurePayload{
		Code:     int32(code), //nolint:gosec // codes.Code is a bounded enum value.
		Message:  body.Error,
		Reason:   body.Code,
		LessonID: body.LessonID,
	})
	if marshalErr != nil {
		data = nil
	}
	return idempotency.Response{Code: int(code), Body: data, Failed: true}
}

func (s *BookingService) toStatus(err error) error {
	resp := s.failure(err)
	return decodeFailure(resp)
}

func (s *BookingService) respond(payload any) (*structpb.Struct, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).Error("failed to encode response")
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

// decodeFailure восстанавливает gRPC-статус с ErrorInfo из сохранённого ответа.
func decodeFailure(resp idempotency.Response) error {
	code := codes.Internal
	if resp.Code > int(codes.OK) && resp.Code <= int(codes.Unauthenticated) {
		code = codes.Code(uint32(resp.Code)) //nolint:gosec // range checked above.
	}

	var payload failurePayload
	if len(resp.Body) == 0 || json.Unmarshal(resp.Body, &payload) != nil {
		return status.Error(code, "previous request with the same idempotency key failed")
	}

	st := status.New(code, payload.Message)
	info := &errdetails.ErrorInfo{Reason: payload.Reason, Domain: errorDomain}
	if payload.LessonID != "" {
		info.Metadata = map[string]string{"lesson_id": payload.LessonID}
	}
	if detailed, err := st.WithDetails(info); err == nil {
		st = detailed
	}
	return st.Err()
}

// CodeFor возвращает gRPC-код для кода ошибки API.
func CodeFor(code string) codes.Code {
	switch code {
	case api.CodeInvalidInput:
		return codes.InvalidArgument
	case api.CodeLessonNotFound, api.CodeOrderNotFound:
		return codes.NotFound
	case api.CodeCapacityExceeded:
		return codes.ResourceExhausted
	case api.CodeAlreadyCancelled:
		return codes.FailedPrecondition
	case api.CodeDirectCapacityEdit:
		return codes.PermissionDenied
	case api.CodePersistFailure:
		return codes.Unavailable
	case api.CodeIdempotencyMismatch:
		return codes.AlreadyExists
	case api.CodeIdempotencyInProgress:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

func decodeRequest(req *structpb.Struct, dst any) error {
	if req == nil {
		return fmt.Errorf("%w: request is required", domain.ErrInvalidInput)
	}
	data, err := protojson.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	return api.DecodeStrict(data, dst)
}

func readIdempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(IdempotencyKeyHeader)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func requestHash(method string, req proto.Message) (string, error) {
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return "", err
	}
	return idempotency.HashRequest(method, data), nil
}

var _ BookingServer = (*BookingService)(nil)
