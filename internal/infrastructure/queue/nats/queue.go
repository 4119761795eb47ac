package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
	"github.com/kirillkom/canopy-survey/internal/infrastructure/resilience"
)

const workerQueueGroup = "survey-workers"

// Queue carries detection requests to the remote detection job and its outcomes back.
type Queue struct {
	conn          *nats.Conn
	detectSubject string
	resultSubject string
	executor      *resilience.Executor
	logger        *slog.Logger
}

type Options struct {
	DetectSubject        string
	ResultSubject        string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if options.DetectSubject == "" || options.ResultSubject == "" {
		return nil, errors.New("nats: detect and result subjects are required")
	}

	conn, err := nats.Connect(
		url,
		nats.Name("canopy-survey"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "connect nats", err)
	}
	return &Queue{
		conn:          conn,
		detectSubject: options.DetectSubject,
		resultSubject: options.ResultSubject,
		executor:      options.ResilienceExecutor,
		logger:        logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishDetectionRequested(ctx context.Context, req domain.DetectionRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode detection request: %w", err)
	}
	return q.publish(ctx, q.detectSubject, payload)
}

// PublishDetectionOutcome reports a terminal outcome on the result subject. The detection
// job normally does this; surveyctl uses it to replay outcomes by hand.
func (q *Queue) PublishDetectionOutcome(ctx context.Context, outcome domain.DetectionOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode detection outcome: %w", err)
	}
	return q.publish(ctx, q.resultSubject, payload)
}

func (q *Queue) publish(ctx context.Context, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(err)
}

// SubscribeDetectionOutcomes blocks until ctx is done, handing each decoded outcome to
// handler. Malformed messages are logged and dropped.
func (q *Queue) SubscribeDetectionOutcomes(ctx context.Context, handler func(context.Context, domain.DetectionOutcome) error) error {
	sub, err := q.conn.QueueSubscribe(q.resultSubject, workerQueueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		outcome, err := decodeOutcome(msg.Data)
		if err != nil {
			q.logger.Error("detection_outcome_decode_failed", "subject", msg.Subject, "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, outcome); err != nil {
			q.logger.Error("detection_outcome_handler_failed", "survey_id", outcome.SurveyID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func decodeOutcome(data []byte) (domain.DetectionOutcome, error) {
	var outcome domain.DetectionOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		return domain.DetectionOutcome{}, fmt.Errorf("decode detection outcome: %w", err)
	}
	if outcome.SurveyID == "" {
		return domain.DetectionOutcome{}, errors.New("decode detection outcome: survey_id is empty")
	}
	return outcome, nil
}
