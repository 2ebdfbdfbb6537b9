package observability

import "context"

// Logger es la fachada de logging del sink; la implementacion real va
// sobre scribe, los tests usan NopLogger.
type Logger interface {
	Trace(ctx context.Context, message string, fields ...interface{}) Logger

	Debug(ctx context.Context, message string, fields ...interface{}) Logger

	Info(ctx context.Context, message string, fields ...interface{}) Logger

	Warn(ctx context.Context, message string, err error, fields ...interface{}) Logger

	Error(ctx context.Context, message string, err error, fields ...interface{}) Logger

	Fatal(ctx context.Context, message string, err error, fields ...interface{}) Logger

	AddFieldsToContext(ctx context.Context, fields map[string]string) context.Context
}
