package temporal

import (
	"fmt"
	"reflect"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// zapLogger routes Temporal SDK logs through zap
type zapLogger struct {
	logger *zap.Logger
}

// NewLogger adapts logger to the Temporal SDK logger interface
func NewLogger(logger *zap.Logger) log.Logger {
	return &zapLogger{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (z *zapLogger) Debug(msg string, keyvals ...interface{}) {
	z.logger.Debug(msg, fields(keyvals)...)
}

func (z *zapLogger) Info(msg string, keyvals ...interface{}) {
	z.logger.Info(msg, fields(keyvals)...)
}

func (z *zapLogger) Warn(msg string, keyvals ...interface{}) {
	z.logger.Warn(msg, fields(keyvals)...)
}

func (z *zapLogger) Error(msg string, keyvals ...interface{}) {
	z.logger.Error(msg, fields(keyvals)...)
}

// With is required by log.WithLogger
func (z *zapLogger) With(keyvals ...interface{}) log.Logger {
	return &zapLogger{logger: z.logger.With(fields(keyvals)...)}
}

// fields pairs keyvals; a trailing key without a value is kept as "<missing>"
func fields(keyvals []interface{}) []zap.Field {
	out := make([]zap.Field, 0, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		if i+1 >= len(keyvals) {
			out = append(out, zap.String(key, "<missing>"))
			break
		}
		out = append(out, field(key, keyvals[i+1]))
	}
	return out
}

// field avoids zap.Any on values it cannot encode
func field(key string, val interface{}) zap.Field {
	if val == nil {
		return zap.String(key, "<nil>")
	}
	switch v := val.(type) {
	case error:
		return zap.NamedError(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	}
	switch reflect.ValueOf(val).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return zap.String(key, fmt.Sprintf("<%T>", val))
	}
	return zap.Any(key, val)
}
