package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
)

func fastRetry(attempts int) Config {
	return Config{
		RetryMaxAttempts:    attempts,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(fastRetry(3), nil)

	attempts := 0
	err := exec.Execute(context.Background(), "publish", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return domain.WrapError(domain.ErrTemporary, "publish", errors.New("no responders"))
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryRejection(t *testing.T) {
	exec := NewExecutor(fastRetry(3), nil)

	attempts := 0
	err := exec.Execute(context.Background(), "get_survey", func(context.Context) error {
		attempts++
		return domain.WrapError(domain.ErrSurveyNotFound, "get_survey", errors.New("404"))
	}, nil)
	if !domain.IsKind(err, domain.ErrSurveyNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestBreakerOnlyNeverRepeatsCall(t *testing.T) {
	exec := NewExecutor(BreakerOnly(), nil)

	attempts := 0
	errTemp := domain.WrapError(domain.ErrTemporary, "get_survey", errors.New("503"))
	err := exec.Execute(context.Background(), "get_survey", func(context.Context) error {
		attempts++
		return errTemp
	}, nil)
	if !errors.Is(err, errTemp) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	}, nil)

	errTemp := domain.WrapError(domain.ErrTemporary, "list_surveys", errors.New("connection refused"))
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "list_surveys", func(context.Context) error {
			return errTemp
		}, nil)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "list_surveys", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected open circuit to be temporary, got %v", err)
	}
}

func TestRejectionsDoNotTripBreaker(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:   1,
		BreakerEnabled:     true,
		BreakerMinRequests: 2,
	}, nil)

	for i := 0; i < 5; i++ {
		_ = exec.Execute(context.Background(), "trigger", func(context.Context) error {
			return domain.WrapError(domain.ErrConflict, "trigger", errors.New("409"))
		}, nil)
	}

	called := false
	if err := exec.Execute(context.Background(), "trigger", func(context.Context) error {
		called = true
		return nil
	}, nil); err != nil || !called {
		t.Fatalf("expected breaker to stay closed, called=%v err=%v", called, err)
	}
}
