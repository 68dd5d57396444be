package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты резервирования для метки reason.
const (
	RejectCapacity = "capacity"
	RejectNotFound = "not_found"
)

// BookingMetrics содержит метрики создания и отмены заказов.
type BookingMetrics struct {
	ordersPlaced       prometheus.Counter
	ordersCancelled    prometheus.Counter
	reservationsReject *prometheus.CounterVec
	unwinds            prometheus.Counter
	releaseFailures    prometheus.Counter
	persistFailures    prometheus.Counter
	directEdits        prometheus.Counter

	operationDuration *prometheus.HistogramVec
	inFlight          prometheus.Gauge

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
	cacheRequests  *prometheus.CounterVec
}

// NewBookingMetrics регистрирует метрики в глобальном реестре.
func NewBookingMetrics() *BookingMetrics {
	return NewBookingMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewBookingMetricsWithRegisterer регистрирует метрики в переданном реестре (удобно в тестах).
func NewBookingMetricsWithRegisterer(registerer prometheus.Registerer) *BookingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &BookingMetrics{
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "booking_orders_placed_total",
			Help: "Total number of orders placed with all seats reserved",
		}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "booking_orders_cancelled_total",
			Help: "Total number of orders cancelled with seats restored",
		}),
		reservationsReject: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "booking_reservations_rejected_total",
			Help: "Total number of rejected order placements grouped by reason",
		}, []string{"reason"}),
		unwinds: registerCounter(registerer, prometheus.CounterOpts{
			Name: "booking_reservation_unwinds_total",
			Help: "Total number of compensating releases performed while unwinding an order",
		}),
		releaseFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "booking_release_failures_total",
			Help: "Total number of compensating releases that failed after all retries",
		}),
		persistFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "booking_persist_failures_total",
			Help: "Total number of order ledger write failures",
		}),
		directEdits: registerCounter(registerer, prometheus.CounterOpts{
			Name: "booking_direct_capacity_edits_total",
			Help: "Total number of lesson spaces edits that bypassed reservation",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "booking_operation_duration_seconds",
			Help:    "Duration of booking operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "booking_inflight_operations",
			Help: "Number of create/cancel operations currently in progress",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "booking_timeline_events_total",
			Help: "Total number of order timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "booking_outbox_events_total",
			Help: "Total number of events enqueued into the outbox",
		}),
		cacheRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "booking_catalog_cache_requests_total",
			Help: "Total number of lesson cache lookups grouped by result",
		}, []string{"result"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// Все методы безопасны для nil-получателя: сервисы могут работать без метрик.

// RecordOrderPlaced увеличивает счётчик созданных заказов.
func (m *BookingMetrics) RecordOrderPlaced() {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
}

// RecordOrderCancelled увеличивает счётчик отменённых заказов.
func (m *BookingMetrics) RecordOrderCancelled() {
	if m == nil {
		return
	}
	m.ordersCancelled.Inc()
}

// RecordReservationRejected учитывает отказ в резервировании.
func (m *BookingMetrics) RecordReservationRejected(reason string) {
	if m == nil {
		return
	}
	m.reservationsReject.WithLabelValues(reason).Inc()
}

// RecordUnwind учитывает компенсирующий возврат мест.
func (m *BookingMetrics) RecordUnwind() {
	if m == nil {
		return
	}
	m.unwinds.Inc()
}

// RecordReleaseFailure учитывает возврат мест, не удавшийся после всех попыток.
func (m *BookingMetrics) RecordReleaseFailure() {
	if m == nil {
		return
	}
	m.releaseFailures.Inc()
}

// RecordPersistFailure учитывает ошибку записи в журнал заказов.
func (m *BookingMetrics) RecordPersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// RecordDirectCapacityEdit учитывает прямую запись spaces через каталог.
func (m *BookingMetrics) RecordDirectCapacityEdit() {
	if m == nil {
		return
	}
	m.directEdits.Inc()
}

// RecordOperationStarted увеличивает число выполняющихся операций.
func (m *BookingMetrics) RecordOperationStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// RecordOperationFinished уменьшает число выполняющихся операций и пишет длительность.
func (m *BookingMetrics) RecordOperationFinished(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *BookingMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *BookingMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordCacheHit учитывает попадание в кэш каталога.
func (m *BookingMetrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues("hit").Inc()
}

// RecordCacheMiss учитывает промах кэша каталога.
func (m *BookingMetrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues("miss").Inc()
}
