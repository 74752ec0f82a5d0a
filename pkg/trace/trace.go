package trace

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Event is one scheduling-decision record: a wake, a switch, a migration,
// a boost/deboost, or an SMT active-balance. The host stamps At itself
// (the core never reads the wall clock); the workload driver and the serve
// loop stamp it with time.Now().
type Event struct {
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"`
	CPU      int       `json:"cpu"`
	TaskID   string    `json:"task_id,omitempty"`
	OtherCPU int       `json:"other_cpu,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Exporter receives scheduling events as they're produced. Implementations
// must not block the scheduler's hot path for long; the Redis exporter
// below hands off to a buffered channel internally, while the log exporter
// writes each event synchronously.
type Exporter interface {
	Emit(Event)
	Close()
}

// logExporter writes each event as a structured log line. It is always
// available and requires no external service, so it is the default when
// no Redis address is configured.
type logExporter struct {
	logger *logrus.Logger
}

// NewLogExporter returns an Exporter that logs every event at debug level.
func NewLogExporter(logger *logrus.Logger) Exporter {
	return &logExporter{logger: logger}
}

func (e *logExporter) Emit(ev Event) {
	e.logger.WithFields(logrus.Fields{
		"kind":      ev.Kind,
		"cpu":       ev.CPU,
		"task_id":   ev.TaskID,
		"other_cpu": ev.OtherCPU,
		"detail":    ev.Detail,
	}).Debug("sched event")
}

func (e *logExporter) Close() {}

// redisExporter publishes events to a Redis pub/sub channel, letting an external
// dashboard (or google-schedviz-style trace viewer) consume them live.
// Publishing happens on a background goroutine fed by a bounded channel;
// a full channel drops the event rather than blocking the caller.
type redisExporter struct {
	client *redis.Client
	topic  string
	logger *logrus.Logger
	events chan Event
	done   chan struct{}
}

// NewRedisExporter connects to addr and starts the background publisher.
func NewRedisExporter(addr, topic string, logger *logrus.Logger) Exporter {
	client := redis.NewClient(&redis.Options{Addr: addr})
	e := &redisExporter{
		client: client,
		topic:  topic,
		logger: logger,
		events: make(chan Event, 4096),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *redisExporter) run() {
	ctx := context.Background()
	for ev := range e.events {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := e.client.Publish(ctx, e.topic, payload).Err(); err != nil {
			e.logger.WithError(err).Warn("trace: redis publish failed")
		}
	}
	close(e.done)
}

func (e *redisExporter) Emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("trace: event dropped, redis exporter backlogged")
	}
}

func (e *redisExporter) Close() {
	close(e.events)
	<-e.done
	e.client.Close()
}

// multiExporter fans one event out to several exporters.
type multiExporter struct {
	exporters []Exporter
}

// NewMultiExporter combines exporters into one.
func NewMultiExporter(exporters ...Exporter) Exporter {
	return &multiExporter{exporters: exporters}
}

func (m *multiExporter) Emit(ev Event) {
	for _, e := range m.exporters {
		e.Emit(ev)
	}
}

func (m *multiExporter) Close() {
	for _, e := range m.exporters {
		e.Close()
	}
}
