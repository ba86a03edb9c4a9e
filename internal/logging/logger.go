// Package logging provides structured logging functionality for zoom-extractor
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/curtbushko/zoom-extractor/internal/config"
)

// LogLevel represents the severity level of a log entry
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

type contextKey string

// RequestIDKey is the context key for request IDs
const RequestIDKey contextKey = "request_id"

// Logger defines the interface for logging operations
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})

	DebugWithContext(ctx context.Context, format string, args ...interface{})
	InfoWithContext(ctx context.Context, format string, args ...interface{})
	WarnWithContext(ctx context.Context, format string, args ...interface{})
	ErrorWithContext(ctx context.Context, format string, args ...interface{})

	LogEntityOutcome(outcome EntityOutcome)
	LogPerformance(metrics PerformanceMetrics)
	LogAPIRequest(request APIRequest)
	LogAPIResponse(response APIResponse)

	GetLevel() LogLevel
	SetLevel(level LogLevel)
	SetOutput(w io.Writer)
	Close() error
}

// EntityOutcome describes a state transition of a user, window, meeting or file
type EntityOutcome struct {
	Kind     string                 `json:"kind"`
	ID       string                 `json:"id"`
	ParentID string                 `json:"parent_id,omitempty"`
	State    string                 `json:"state"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PerformanceMetrics represents performance data for logging
type PerformanceMetrics struct {
	Operation      string                 `json:"operation"`
	Duration       time.Duration          `json:"-"`
	BytesProcessed int64                  `json:"bytes_processed"`
	Success        bool                   `json:"success"`
	Error          string                 `json:"error,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// APIRequest represents API request data for logging
type APIRequest struct {
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Attempt   int               `json:"attempt"`
	RequestID string            `json:"request_id"`
	Timestamp time.Time         `json:"timestamp"`
}

// APIResponse represents API response data for logging
type APIResponse struct {
	StatusCode int           `json:"status_code"`
	RequestID  string        `json:"request_id"`
	Duration   time.Duration `json:"-"`
	Timestamp  time.Time     `json:"timestamp"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
}

// loggerImpl implements the Logger interface
type loggerImpl struct {
	mu         sync.Mutex
	level      LogLevel
	jsonFormat bool
	writers    []io.Writer
	fileHandle *os.File
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// NewLogger creates a new Logger instance with the given configuration
func NewLogger(config config.LoggingConfig) (Logger, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	logger := &loggerImpl{
		level:      level,
		jsonFormat: config.JSONFormat,
	}

	if config.Console {
		logger.writers = append(logger.writers, os.Stdout)
	}

	if config.File != "" {
		file, err := os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.File, err)
		}
		logger.fileHandle = file
		logger.writers = append(logger.writers, file)
	}

	return logger, nil
}

// ParseLevel converts a string to LogLevel
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

func (l *loggerImpl) enabled(level LogLevel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.level
}

func (l *loggerImpl) log(level LogLevel, ctx context.Context, format string, args ...interface{}) {
	if !l.enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     strings.ToUpper(level.String()),
		Message:   fmt.Sprintf(format, args...),
	}
	if ctx != nil {
		if requestID, ok := GetRequestID(ctx); ok {
			entry.RequestID = requestID
		}
	}

	var output string
	if l.jsonFormat {
		data, _ := json.Marshal(entry)
		output = string(data) + "\n"
	} else {
		timestamp := entry.Timestamp.Format("2006-01-02T15:04:05Z")
		if entry.RequestID != "" {
			output = fmt.Sprintf("%s [%s] [%s] %s\n", timestamp, entry.Level, entry.RequestID, entry.Message)
		} else {
			output = fmt.Sprintf("%s [%s] %s\n", timestamp, entry.Level, entry.Message)
		}
	}

	l.write(output)
}

// writeStructuredEntry writes a log entry with additional fields. Text output sorts keys
// so lines are stable between runs.
func (l *loggerImpl) writeStructuredEntry(level LogLevel, message string, fields map[string]interface{}) {
	if !l.enabled(level) {
		return
	}

	now := time.Now().UTC()
	levelName := strings.ToUpper(level.String())

	var output string
	if l.jsonFormat {
		entryMap := map[string]interface{}{
			"timestamp": now,
			"level":     levelName,
			"message":   message,
		}
		for key, value := range fields {
			entryMap[key] = value
		}
		data, _ := json.Marshal(entryMap)
		output = string(data) + "\n"
	} else {
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var pairs []string
		for _, key := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%v", key, fields[key]))
		}
		fieldStr := ""
		if len(pairs) > 0 {
			fieldStr = " " + strings.Join(pairs, " ")
		}
		output = fmt.Sprintf("%s [%s] %s%s\n", now.Format("2006-01-02T15:04:05Z"), levelName, message, fieldStr)
	}

	l.write(output)
}

func (l *loggerImpl) write(output string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, writer := range l.writers {
		_, _ = io.WriteString(writer, output)
	}
}

// Debug logs a debug message
func (l *loggerImpl) Debug(format string, args ...interface{}) {
	l.log(DebugLevel, nil, format, args...)
}

// Info logs an info message
func (l *loggerImpl) Info(format string, args ...interface{}) {
	l.log(InfoLevel, nil, format, args...)
}

// Warn logs a warning message
func (l *loggerImpl) Warn(format string, args ...interface{}) {
	l.log(WarnLevel, nil, format, args...)
}

// Error logs an error message
func (l *loggerImpl) Error(format string, args ...interface{}) {
	l.log(ErrorLevel, nil, format, args...)
}

func (l *loggerImpl) DebugWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(DebugLevel, ctx, format, args...)
}

func (l *loggerImpl) InfoWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(InfoLevel, ctx, format, args...)
}

func (l *loggerImpl) WarnWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(WarnLevel, ctx, format, args...)
}

func (l *loggerImpl) ErrorWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(ErrorLevel, ctx, format, args...)
}

// LogEntityOutcome logs a unit-of-work transition. Failures are logged at warn level.
func (l *loggerImpl) LogEntityOutcome(outcome EntityOutcome) {
	fields := map[string]interface{}{
		"kind":  outcome.Kind,
		"id":    outcome.ID,
		"state": outcome.State,
	}
	if outcome.ParentID != "" {
		fields["parent_id"] = outcome.ParentID
	}
	if outcome.Error != "" {
		fields["error"] = outcome.Error
	}
	for key, value := range outcome.Metadata {
		fields[key] = value
	}

	level := DebugLevel
	if outcome.Error != "" {
		level = WarnLevel
	}
	l.writeStructuredEntry(level, fmt.Sprintf("%s %s", outcome.Kind, outcome.State), fields)
}

// LogPerformance logs performance metrics
func (l *loggerImpl) LogPerformance(metrics PerformanceMetrics) {
	fields := map[string]interface{}{
		"operation":       metrics.Operation,
		"duration_ms":     metrics.Duration.Milliseconds(),
		"bytes_processed": metrics.BytesProcessed,
		"success":         metrics.Success,
	}
	if metrics.Error != "" {
		fields["error"] = metrics.Error
	}
	for key, value := range metrics.Metadata {
		fields[key] = value
	}

	message := fmt.Sprintf("Performance: %s completed in %v", metrics.Operation, metrics.Duration)
	l.writeStructuredEntry(InfoLevel, message, fields)
}

// LogAPIRequest logs API requests. Authorization headers are always redacted.
func (l *loggerImpl) LogAPIRequest(request APIRequest) {
	if request.Timestamp.IsZero() {
		request.Timestamp = time.Now().UTC()
	}

	fields := map[string]interface{}{
		"method":     request.Method,
		"url":        request.URL,
		"attempt":    request.Attempt,
		"request_id": request.RequestID,
	}

	if len(request.Headers) > 0 {
		fields["headers"] = RedactHeaders(request.Headers)
	}

	l.writeStructuredEntry(DebugLevel, fmt.Sprintf("API Request: %s %s", request.Method, request.URL), fields)
}

// LogAPIResponse logs API responses
func (l *loggerImpl) LogAPIResponse(response APIResponse) {
	if response.Timestamp.IsZero() {
		response.Timestamp = time.Now().UTC()
	}

	fields := map[string]interface{}{
		"status_code": response.StatusCode,
		"request_id":  response.RequestID,
		"duration_ms": response.Duration.Milliseconds(),
		"success":     response.Success,
	}
	if response.Error != "" {
		fields["error"] = response.Error
	}

	l.writeStructuredEntry(DebugLevel, fmt.Sprintf("API Response: %d (%v)", response.StatusCode, response.Duration), fields)
}

// RedactHeaders returns a copy of headers with credentials masked
func RedactHeaders(headers map[string]string) map[string]string {
	sanitized := make(map[string]string, len(headers))
	for key, value := range headers {
		if strings.EqualFold(key, "authorization") {
			sanitized[key] = "***"
		} else {
			sanitized[key] = value
		}
	}
	return sanitized
}

func (l *loggerImpl) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *loggerImpl) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput sets the output writer (mainly for testing)
func (l *loggerImpl) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writers = []io.Writer{w}
}

// Close closes the logger and any open file handles
func (l *loggerImpl) Close() error {
	if l.fileHandle != nil {
		return l.fileHandle.Close()
	}
	return nil
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger
)

// SetDefaultLogger sets the global default logger
func SetDefaultLogger(logger Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// GetDefaultLogger returns the global default logger, or a discarding logger if none is set
func GetDefaultLogger() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	if defaultLogger == nil {
		return nopLogger
	}
	return defaultLogger
}

var nopLogger Logger = &loggerImpl{level: ErrorLevel + 1}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() Logger {
	return &loggerImpl{level: ErrorLevel + 1}
}

// InitializeLogging initializes the global logger with the provided configuration
func InitializeLogging(config config.LoggingConfig) error {
	logger, err := NewLogger(config)
	if err != nil {
		return err
	}

	SetDefaultLogger(logger)
	return nil
}

// Debug logs a debug message using the default logger
func Debug(format string, args ...interface{}) {
	GetDefaultLogger().Debug(format, args...)
}

// Info logs an info message using the default logger
func Info(format string, args ...interface{}) {
	GetDefaultLogger().Info(format, args...)
}

// Warn logs a warning message using the default logger
func Warn(format string, args ...interface{}) {
	GetDefaultLogger().Warn(format, args...)
}

// Error logs an error message using the default logger
func Error(format string, args ...interface{}) {
	GetDefaultLogger().Error(format, args...)
}

// WithRequestID creates a context with a request ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID extracts the request ID from a context
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(RequestIDKey).(string)
	return requestID, ok
}

// GenerateRequestID returns a new random request ID
func GenerateRequestID() string {
	return "req-" + uuid.NewString()
}
