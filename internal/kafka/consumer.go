package kafka

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/gammazero/workerpool"
	"github.com/goccy/go-json"
	"github.com/nguyentranbao-ct/request-chat/internal/models"
	"github.com/nguyentranbao-ct/request-chat/pkg/logger"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
	"github.com/nguyentranbao-ct/request-chat/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
)

type Handler func(ctx context.Context, msg *sarama.ConsumerMessage) error

type Consumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type consumerOptions struct {
	brokers        []string
	topics         []string
	groupID        string
	maxWorkers     int
	maxRetries     int
	consumeTimeout time.Duration
	handler        Handler
}

type groupConsumer struct {
	opts    consumerOptions
	group   sarama.ConsumerGroup
	pool    *workerpool.WorkerPool
	metrics *prometheus.HistogramVec

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newGroupConsumer(opts consumerOptions) (*groupConsumer, error) {
	metrics, err := util.GetHistogramVec("kafka_messages_consumed", "Duration of consumed kafka messages", "code", "topic", "group")
	if err != nil {
		return nil, fmt.Errorf("get histogram vec: %w", err)
	}
	if opts.maxWorkers <= 0 {
		opts.maxWorkers = 1
	}

	cfg := newSaramaConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true
	group, err := sarama.NewConsumerGroup(opts.brokers, opts.groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &groupConsumer{
		opts:    opts,
		group:   group,
		pool:    workerpool.New(opts.maxWorkers),
		metrics: metrics,
	}, nil
}

// Start joins the group and consumes in the background until Stop.
func (c *groupConsumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	log.Infow(ctx, "starting kafka consumer", "topics", c.opts.topics, "group", c.opts.groupID)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			log.Warnw(ctx, "kafka consumer group error", "error", err)
		}
	}()
	go func() {
		defer c.wg.Done()
		for {
			err := c.group.Consume(ctx, c.opts.topics, c)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err != nil {
				log.Errorw(ctx, "kafka consume failed", "error", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

func (c *groupConsumer) Stop(ctx context.Context) error {
	log.Infow(ctx, "stopping kafka consumer", "group", c.opts.groupID)
	if c.cancel != nil {
		c.cancel()
	}
	err := c.group.Close()
	c.wg.Wait()
	c.pool.StopWait()
	return err
}

func (c *groupConsumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *groupConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim keeps partition order: each message is marked only after its
// handler finished. The pool bounds concurrency across partitions.
func (c *groupConsumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			c.pool.SubmitWait(func() {
				c.processMessage(ctx, msg)
			})
			sess.MarkMessage(msg, "")
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *groupConsumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) {
	start := time.Now()
	lagMs := start.Sub(msg.Timestamp).Milliseconds()

	err := c.handleWithRetry(ctx, msg)
	duration := time.Since(start)

	code := models.ErrorCode(err)
	content := "success"
	if err != nil {
		content = err.Error()
	}
	log.Logw(ctx, getLogLevel(code), content,
		"code", code,
		"duration_ms", duration.Milliseconds(),
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"lag_ms", lagMs,
		"key", string(msg.Key),
		"value", json.RawMessage(msg.Value),
	)

	c.metrics.
		WithLabelValues(code.String(), msg.Topic, c.opts.groupID).
		Observe(duration.Seconds())
}

func (c *groupConsumer) handleWithRetry(ctx context.Context, msg *sarama.ConsumerMessage) error {
	for attempt := 0; ; attempt++ {
		err := c.handle(ctx, msg)
		var retry *ErrRetry
		if !errors.As(err, &retry) || attempt >= c.opts.maxRetries {
			return err
		}
		log.Debugw(ctx, "retrying kafka message", "attempt", attempt+1, "delay", retry.Delay, "error", retry.Err)
		select {
		case <-time.After(retry.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *groupConsumer) handle(ctx context.Context, msg *sarama.ConsumerMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			length := runtime.Stack(stack, false)
			err = fmt.Errorf("PANIC RECOVER: %+v / %s", r, string(stack[:length]))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.opts.consumeTimeout)
	defer cancel()
	return c.opts.handler(ctx, msg)
}

type noopConsumer struct{}

func (noopConsumer) Start(ctx context.Context) error {
	log.Infof(ctx, "kafka consumer is disabled")
	return nil
}

func (noopConsumer) Stop(context.Context) error { return nil }

func getLogLevel(code codes.Code) logger.Level {
	switch code {
	case codes.OK:
		return logger.InfoLevel
	case codes.Canceled,
		codes.InvalidArgument,
		codes.NotFound,
		codes.AlreadyExists,
		codes.PermissionDenied,
		codes.Unauthenticated,
		codes.ResourceExhausted,
		codes.FailedPrecondition,
		codes.Aborted,
		codes.Unimplemented,
		codes.OutOfRange:
		return logger.WarnLevel
	default:
		return logger.ErrorLevel
	}
}
