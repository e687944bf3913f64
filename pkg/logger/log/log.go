// Package log writes through the root logger and attaches the fields that
// were stored on the context with With.
package log

import (
	"context"
	"fmt"
	"slices"

	"github.com/nguyentranbao-ct/request-chat/pkg/ctxval"
	"github.com/nguyentranbao-ct/request-chat/pkg/logger"
	"go.uber.org/zap"
)

type fieldsKey struct{}

// With records key/value pairs on ctx. When ctx was wrapped by ctxval the
// pairs are also visible to every holder of the same request context.
func With(ctx context.Context, kv ...any) context.Context {
	ctx = ctxval.Wrap(ctx)
	ctxval.Update(ctx, fieldsKey{}, func(cur []any) []any {
		return append(slices.Clone(cur), kv...)
	})
	return ctx
}

func Fields(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	kv, _ := ctxval.Get[fieldsKey, []any](ctx, fieldsKey{})
	return kv
}

func sugar(ctx context.Context) *zap.SugaredLogger {
	l := logger.Root().WithOptions(zap.AddCallerSkip(2)).Sugar()
	if kv := Fields(ctx); len(kv) > 0 {
		l = l.With(kv...)
	}
	return l
}

func Logw(ctx context.Context, level logger.Level, msg string, kv ...any) {
	sugar(ctx).Logw(level, msg, kv...)
}

func Debugw(ctx context.Context, msg string, kv ...any) { Logw(ctx, logger.DebugLevel, msg, kv...) }
func Infow(ctx context.Context, msg string, kv ...any)  { Logw(ctx, logger.InfoLevel, msg, kv...) }
func Warnw(ctx context.Context, msg string, kv ...any)  { Logw(ctx, logger.WarnLevel, msg, kv...) }
func Errorw(ctx context.Context, msg string, kv ...any) { Logw(ctx, logger.ErrorLevel, msg, kv...) }

func Infof(ctx context.Context, template string, args ...any) {
	Logw(ctx, logger.InfoLevel, fmt.Sprintf(template, args...))
}

func Warnf(ctx context.Context, template string, args ...any) {
	Logw(ctx, logger.WarnLevel, fmt.Sprintf(template, args...))
}

func Fatal(err error) {
	logger.Root().Sugar().Fatalw("fatal error", "error", err)
}
