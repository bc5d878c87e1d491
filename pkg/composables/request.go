package composables

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/workshop/pkg/constants"
)

type Params struct {
	IP        string
	UserAgent string
	RequestID string
}

// UseParams returns the request parameters from the context.
// If the parameters are not found, the second return value will be false.
func UseParams(ctx context.Context) (*Params, bool) {
	params, ok := ctx.Value(constants.ParamsKey).(*Params)
	return params, ok
}

// WithParams returns a new context with the request parameters.
func WithParams(ctx context.Context, params *Params) context.Context {
	return context.WithValue(ctx, constants.ParamsKey, params)
}

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger returns the logger from the context.
// Panics when no logger was attached.
func UseLogger(ctx context.Context) *logrus.Entry {
	logger := ctx.Value(constants.LoggerKey)
	if logger == nil {
		panic("logger not found")
	}
	return logger.(*logrus.Entry)
}

// UseLoggerOr returns the context logger or fallback when none is attached.
func UseLoggerOr(ctx context.Context, fallback *logrus.Entry) *logrus.Entry {
	if logger, ok := ctx.Value(constants.LoggerKey).(*logrus.Entry); ok && logger != nil {
		return logger
	}
	return fallback
}

// WithRunID tags ctx with the identifier of the running backup operation.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, constants.RunIDKey, runID)
}

func UseRunID(ctx context.Context) (string, bool) {
	runID, ok := ctx.Value(constants.RunIDKey).(string)
	return runID, ok
}
