package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

// DefaultTTL — время жизни ключа по умолчанию.
const DefaultTTL = 24 * time.Hour

// Response — сохраняемый ответ транспорта.
// Code — HTTP-статус или код gRPC, Body — сериализованное тело.
type Response struct {
	Code   int
	Body   []byte
	Failed bool
}

// Guard выполняет обработчик не более одного раза на ключ и воспроизводит сохранённый ответ.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// NewGuard создаёт Guard. nil-репозиторий отключает идемпотентность.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HashRequest строит отпечаток запроса: метод плюс детерминированно сериализованное тело.
func HashRequest(method string, body []byte) string {
	payload := make([]byte, 0, len(method)+1+len(body))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Do выполняет handler под ключом key.
// Повтор с тем же ключом и тем же запросом возвращает сохранённый ответ и replayed=true.
// Ошибки: domain.ErrIdempotencyHashMismatch, domain.ErrIdempotencyInProgress.
func (g *Guard) Do(ctx context.Context, key, requestHash string, handler func(context.Context) Response) (resp Response, replayed bool, err error) {
	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		return handler(ctx), false, nil
	}

	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	if err != nil {
		return g.replay(key, record, err)
	}

	resp = handler(ctx)

	// Ответ сохраняется даже если клиент уже ушёл.
	storeCtx := context.WithoutCancel(ctx)
	if resp.Failed {
		err = g.repo.MarkFailed(storeCtx, key, resp.Body, resp.Code)
	} else {
		err = g.repo.MarkDone(storeCtx, key, resp.Body, resp.Code)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
	return resp, false, nil
}

func (g *Guard) replay(key string, record domain.IdempotencyRecord, createErr error) (Response, bool, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, false, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			return Response{Code: record.ResponseCode, Body: record.ResponseBody}, true, nil
		case domain.IdempotencyStatusFailed:
			return Response{Code: record.ResponseCode, Body: record.ResponseBody, Failed: true}, true, nil
		case domain.IdempotencyStatusProcessing:
			return Response{}, false, domain.ErrIdempotencyInProgress
		default:
			return Response{}, false, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	default:
		g.logger.WithError(createErr).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		return Response{}, false, fmt.Errorf("create idempotency record: %w", createErr)
	}
}
