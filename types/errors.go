package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrCacheKeyEmpty        = errors.New("cache key empty")
	ErrCacheDisabled        = errors.New("cache is disabled")
	ErrCacheEntryNotFound   = errors.New("cache entry not found")
	ErrL2Disabled           = errors.New("l2 bridge is disabled")
	ErrL2BackendUnknown     = errors.New("l2 backend type unknown")
	ErrL2Unavailable        = errors.New("l2 backend unavailable")
	ErrL2ConnectionFailed   = errors.New("l2 connection failed")
	ErrCacheOperationFailed = errors.New("cache operation failed")
)

var (
	ErrBreakerOpen      = errors.New("circuit breaker open")
	ErrBudgetExhausted  = errors.New("daily budget exhausted")
	ErrCoolingDown      = errors.New("upstream cooling down")
	ErrNoProviders      = errors.New("no eligible providers")
	ErrUpstreamTimeout  = errors.New("upstream call timeout")
	ErrRateLimited      = errors.New("upstream rate limited")
	ErrUpstreamFailed   = errors.New("upstream call failed")
	ErrEmptyResult      = errors.New("upstream returned no usable result")
	ErrFetcherIsNil     = errors.New("fetcher is nil")
	ErrProviderNotFound = errors.New("provider not found")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronIsRunning         = errors.New("cron is running")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsIsDisabled  = errors.New("metrics manager is disabled")
)

var (
	ErrServiceIsRunning     = errors.New("service is running")
	ErrServiceIsNotRunning  = errors.New("service is not running")
	ErrServerNotRunning     = errors.New("component not running")
	ErrServerAlreadyRunning = errors.New("component already running")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
