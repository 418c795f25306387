// telemetry.go: события скачивания файлов.
//
// Событие отправляется во все настроенные sink: лог всегда, NATS :
// если задан DG_NATS_URL. Отправка выполняется фоновой задачей,
// ошибки только логируются.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventDownloadFile: тип события скачивания.
const EventDownloadFile = "download_file"

var telemetryEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dg_telemetry_events_total",
	Help: "Количество отправленных событий телеметрии (по sink и результату).",
}, []string{"sink", "result"})

// DownloadEvent: запись телеметрии о скачивании.
type DownloadEvent struct {
	ID       string    `json:"id"`
	Event    string    `json:"event"`
	Time     time.Time `json:"time"`
	Path     string    `json:"path"`
	Filename string    `json:"filename,omitempty"`
	F        string    `json:"f,omitempty"`
	IP       string    `json:"ip"`
	Cookie   string    `json:"cookie,omitempty"`
	Range    string    `json:"range,omitempty"`
}

// NewDownloadEvent заполняет служебные поля события.
func NewDownloadEvent(path string) DownloadEvent {
	return DownloadEvent{
		ID:    uuid.New().String(),
		Event: EventDownloadFile,
		Time:  timeNow().UTC(),
		Path:  path,
	}
}

// TelemetrySink: получатель событий.
type TelemetrySink interface {
	Name() string
	Emit(ctx context.Context, ev DownloadEvent) error
}

// Telemetry рассылает события по sink.
type Telemetry struct {
	sinks []TelemetrySink
}

// NewTelemetry создаёт рассылку по sinks.
func NewTelemetry(sinks ...TelemetrySink) *Telemetry {
	return &Telemetry{sinks: sinks}
}

// Emit отправляет событие во все sink. Ошибка одного sink не мешает остальным.
func (t *Telemetry) Emit(ctx context.Context, ev DownloadEvent) error {
	var errs []error
	for _, sink := range t.sinks {
		if err := sink.Emit(ctx, ev); err != nil {
			telemetryEventsTotal.WithLabelValues(sink.Name(), "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		telemetryEventsTotal.WithLabelValues(sink.Name(), "success").Inc()
	}
	return errors.Join(errs...)
}

// LogSink пишет события в лог.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink создаёт sink в лог.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "telemetry"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Emit(ctx context.Context, ev DownloadEvent) error {
	s.logger.InfoContext(ctx, "Скачивание файла",
		slog.String("id", ev.ID),
		slog.String("event", ev.Event),
		slog.String("path", ev.Path),
		slog.String("filename", ev.Filename),
		slog.String("f", ev.F),
		slog.String("ip", ev.IP),
		slog.String("range", ev.Range),
	)
	return nil
}

// NATSSink публикует события в NATS subject.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink подключается к NATS. Подключение переустанавливается
// автоматически, поэтому недоступный при старте сервер не ошибка.
func NewNATSSink(url, subject string, logger *slog.Logger) (*NATSSink, error) {
	logger = logger.With(slog.String("component", "telemetry_nats"))
	conn, err := nats.Connect(url,
		nats.Name("docgate"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Соединение с NATS потеряно", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("Соединение с NATS восстановлено", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к NATS: %w", err)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Emit(_ context.Context, ev DownloadEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("ошибка публикации в NATS: %w", err)
	}
	return nil
}

// Close сбрасывает буфер и закрывает соединение.
func (s *NATSSink) Close() {
	_ = s.conn.Drain()
}

// NATSReadinessChecker: проверка соединения с NATS для /health/ready.
type NATSReadinessChecker struct {
	sink *NATSSink
}

// NewNATSReadinessChecker создаёт проверку готовности NATS.
func NewNATSReadinessChecker(sink *NATSSink) *NATSReadinessChecker {
	return &NATSReadinessChecker{sink: sink}
}

// CheckReady проверяет состояние соединения.
func (c *NATSReadinessChecker) CheckReady() (string, string) {
	if !c.sink.conn.IsConnected() {
		return "fail", fmt.Sprintf("NATS не подключён: %s", c.sink.conn.Status())
	}
	return "ok", "NATS подключён"
}
