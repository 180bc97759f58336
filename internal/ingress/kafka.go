// Package ingress adapts the engine to Kafka: a Consumer turns inbound
// event messages into engine.Emit calls, and a Producer republishes trace
// entries for external audit consumers. Both are optional; nothing in
// internal/engine depends on this package.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hamicek/noex-rules-sub007/internal/config"
	"github.com/hamicek/noex-rules-sub007/internal/model"
	"github.com/hamicek/noex-rules-sub007/internal/trace"
)

// Emitter is the subset of the engine's surface the consumer needs. It is
// satisfied by *engine.Engine.
type Emitter interface {
	Emit(topic string, data map[string]interface{}, correlationID, causationID string) (*model.Event, error)
}

// EventMessage is the wire shape expected on the configured events topic.
type EventMessage struct {
	ID            string                 `json:"id"`
	Topic         string                 `json:"topic"`
	Source        string                 `json:"source"`
	Timestamp     time.Time              `json:"timestamp"`
	Data          map[string]interface{} `json:"data"`
	CorrelationID string                 `json:"correlationId,omitempty"`
}

// Consumer reads event messages from Kafka and feeds them into the engine.
type Consumer struct {
	cfg          *config.Config
	logger       *slog.Logger
	reader       *kafka.Reader
	emitter      Emitter
	shutdownChan chan struct{}
	wg           sync.WaitGroup

	messageCount int64
	errorCount   int64
	mu           sync.Mutex
}

// NewConsumer builds a Consumer reading cfg.Kafka.EventsTopic.
func NewConsumer(cfg *config.Config, logger *slog.Logger, emitter Emitter) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Kafka.Brokers,
		GroupID:     cfg.Kafka.GroupID,
		Topic:       cfg.Kafka.EventsTopic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
		Logger:      &KafkaLogger{logger: logger},
		ErrorLogger: &KafkaErrorLogger{logger: logger},
	})

	return &Consumer{
		cfg:          cfg,
		logger:       logger,
		reader:       reader,
		emitter:      emitter,
		shutdownChan: make(chan struct{}),
	}
}

// Start launches the consumer's worker pool. Workers stop when ctx is
// cancelled or Stop is called.
func (c *Consumer) Start(ctx context.Context) {
	workers := c.cfg.Engine.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}
	c.logger.Info("kafka consumer started", "topic", c.cfg.Kafka.EventsTopic, "workers", workers)
}

// Stop closes the reader and waits for workers to drain.
func (c *Consumer) Stop() {
	close(c.shutdownChan)
	if c.reader != nil {
		c.reader.Close()
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
}

func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdownChan:
			return
		default:
		}

		readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := c.reader.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if err == context.DeadlineExceeded {
				continue
			}
			c.logger.Error("kafka read failed", "worker", id, "error", err)
			c.mu.Lock()
			c.errorCount++
			c.mu.Unlock()
			time.Sleep(time.Second)
			continue
		}

		if err := c.processMessage(&msg); err != nil {
			c.logger.Error("kafka message processing failed", "worker", id,
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
			c.mu.Lock()
			c.errorCount++
			c.mu.Unlock()
			continue
		}
		c.mu.Lock()
		c.messageCount++
		c.mu.Unlock()
	}
}

func (c *Consumer) processMessage(msg *kafka.Message) error {
	var em EventMessage
	if err := json.Unmarshal(msg.Value, &em); err != nil {
		return fmt.Errorf("unmarshal event message: %w", err)
	}
	if em.Topic == "" {
		return fmt.Errorf("event message missing topic")
	}

	data := make(map[string]interface{}, len(em.Data)+1)
	for k, v := range em.Data {
		data[k] = v
	}
	if em.Source != "" {
		data["_source"] = em.Source
	}

	_, err := c.emitter.Emit(em.Topic, data, em.CorrelationID, "")
	return err
}

// Stats reports consumer counters.
func (c *Consumer) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"messages_processed": c.messageCount,
		"errors":              c.errorCount,
	}
}

// Producer republishes trace entries onto cfg.Kafka.AuditTopic, giving
// external systems a durable feed of rule firings without querying the
// in-process trace.Collector directly.
type Producer struct {
	cfg    *config.Config
	logger *slog.Logger
	writer *kafka.Writer

	mu           sync.Mutex
	messageCount int64
	errorCount   int64
}

// NewProducer builds a Producer writing to cfg.Kafka.AuditTopic.
func NewProducer(cfg *config.Config, logger *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.AuditTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		Logger:       &KafkaLogger{logger: logger},
		ErrorLogger:  &KafkaErrorLogger{logger: logger},
	}
	return &Producer{cfg: cfg, logger: logger, writer: writer}
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishTrace writes a single trace entry to the audit topic.
func (p *Producer) PublishTrace(ctx context.Context, entry model.TraceEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal trace entry: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(entry.RuleID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(entry.Type)},
			{Key: "rule_id", Value: []byte(entry.RuleID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.mu.Lock()
		p.errorCount++
		p.mu.Unlock()
		return fmt.Errorf("write trace message to kafka: %w", err)
	}
	p.mu.Lock()
	p.messageCount++
	p.mu.Unlock()
	return nil
}

// Subscribe wires the producer into a trace.Collector's subscriber list,
// republishing every trace entry recorded. Entries are funneled through a
// buffered channel drained by a single goroutine, since the collector
// invokes subscribers synchronously and may do so concurrently from
// different engine workers across calls.
func (p *Producer) Subscribe(ctx context.Context, collector *trace.Collector) func() {
	entries := make(chan model.TraceEntry, 256)
	unsubscribe := collector.Subscribe(func(e model.TraceEntry) {
		select {
		case entries <- e:
		default:
			p.logger.Warn("trace publish queue full, dropping entry", "rule_id", e.RuleID)
		}
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-entries:
				if err := p.PublishTrace(ctx, e); err != nil {
					p.logger.Error("publish trace entry failed", "error", err)
				}
			}
		}
	}()

	return unsubscribe
}

// Stats reports producer counters.
func (p *Producer) Stats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]interface{}{
		"messages_published": p.messageCount,
		"errors":              p.errorCount,
	}
}

// KafkaLogger adapts *slog.Logger to kafka-go's Printf-style logger.
type KafkaLogger struct {
	logger *slog.Logger
}

func (l *KafkaLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

// KafkaErrorLogger adapts *slog.Logger to kafka-go's Printf-style error logger.
type KafkaErrorLogger struct {
	logger *slog.Logger
}

func (l *KafkaErrorLogger) Printf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
