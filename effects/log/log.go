package log

import (
	"context"
	"sync"

	"github.com/on-the-ground/effect_stack/effects"
	effectmodel "github.com/on-the-ground/effect_stack/effects/internal/model"
	"go.uber.org/zap"
)

// LogLevel defines the severity level for log messages.
type LogLevel string

const (
	// LogInfo is used for general informational messages.
	LogInfo LogLevel = "info"

	// LogWarn is used for potentially harmful situations.
	LogWarn LogLevel = "warn"

	// LogError is used for error events that might still allow the application to continue running.
	LogError LogLevel = "error"

	// LogDebug is used for debugging messages with detailed internal information.
	LogDebug LogLevel = "debug"
)

const Family = effectmodel.FamilyLog

const OpLog effects.Operation = "log"

// LogPayload is the single argument of a log instruction.
type LogPayload struct {
	Level   LogLevel
	Message string
	Fields  map[string]any
}

var logOp = effects.Define[struct{}](Family, OpLog)

// Log builds a log instruction.
func Log(level LogLevel, msg string, fields map[string]any) effects.Effect[struct{}] {
	return logOp(LogPayload{Level: level, Message: msg, Fields: fields})
}

func Info(msg string) effects.Effect[struct{}]  { return Log(LogInfo, msg, nil) }
func Warn(msg string) effects.Effect[struct{}]  { return Log(LogWarn, msg, nil) }
func Error(msg string) effects.Effect[struct{}] { return Log(LogError, msg, nil) }
func Debug(msg string) effects.Effect[struct{}] { return Log(LogDebug, msg, nil) }

// LogEff performs a log instruction against the runtime carried by ctx.
func LogEff(ctx context.Context, level LogLevel, msg string, fields map[string]any) error {
	_, err := effects.Perform(ctx, Log(level, msg, fields))
	return err
}

func payloadOf(instr effects.Instruction) (LogPayload, error) {
	return effects.Arg[LogPayload](instr, 0)
}

// ZapHandler writes every log instruction to logger.
func ZapHandler(logger *zap.Logger) effects.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return effects.HandlerOf(Family, map[effects.Operation]effects.HandleFunc{
		OpLog: func(ctx context.Context, instr effects.Instruction, _ effects.Resume) (any, error) {
			payload, err := payloadOf(instr)
			if err != nil {
				return nil, err
			}
			write(logger, payload)
			return struct{}{}, nil
		},
	})
}

func write(logger *zap.Logger, payload LogPayload) {
	fields := make([]zap.Field, 0, len(payload.Fields))
	for k, v := range payload.Fields {
		fields = append(fields, zap.Any(k, v))
	}

	switch payload.Level {
	case LogInfo:
		logger.Info(payload.Message, fields...)
	case LogWarn:
		logger.Warn(payload.Message, fields...)
	case LogError:
		logger.Error(payload.Message, fields...)
	case LogDebug:
		logger.Debug(payload.Message, fields...)
	default:
		logger.Info(payload.Message, fields...)
	}
}

// Entry is one captured log record.
type Entry struct {
	LogPayload
	At effects.TimeSpan
}

func (e Entry) TimeSpan() effects.TimeSpan { return e.At }

var _ effects.TimeBounded = Entry{}

// Captured is the envelope the capturing handler wraps a run's value in.
type Captured struct {
	Value any
	Logs  []Entry
}

// Messages returns the captured messages in the order they were logged.
func (c Captured) Messages() []string {
	msgs := make([]string, len(c.Logs))
	for i, e := range c.Logs {
		msgs[i] = e.Message
	}
	return msgs
}

type capture struct {
	mu      sync.Mutex
	entries []Entry
	forward bool
}

// Capture returns a handler recording every log instruction. Its finalizer
// wraps the value of the run in a Captured envelope; a pending halt passes
// through untouched, along with the unwrapped value.
//
// Every run gets its own records.
func Capture() effects.Handler {
	return effects.HandlerPerRun(Family, func() effects.Handler {
		return newCapture(false).handler()
	})
}

// CaptureAndForward is Capture, except that every record is also passed on to
// the log handler registered below it.
func CaptureAndForward() effects.Handler {
	return effects.HandlerPerRun(Family, func() effects.Handler {
		return newCapture(true).handler()
	})
}

func newCapture(forward bool) *capture {
	return &capture{forward: forward}
}

func (c *capture) handler() effects.Handler {
	return effects.HandlerOf(Family, map[effects.Operation]effects.HandleFunc{
		OpLog: c.handle,
	}).WithFinalizer(c.finalize)
}

func (c *capture) handle(ctx context.Context, instr effects.Instruction, resume effects.Resume) (any, error) {
	payload, err := payloadOf(instr)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries = append(c.entries, Entry{LogPayload: payload, At: effects.Now()})
	c.mu.Unlock()
	if c.forward {
		return resume(ctx)
	}
	return struct{}{}, nil
}

func (c *capture) finalize(value any, halt *effects.Halt) (any, *effects.Halt) {
	c.mu.Lock()
	entries := c.entries
	c.entries = nil
	c.mu.Unlock()

	if halt != nil {
		return value, halt
	}
	return Captured{Value: value, Logs: entries}, nil
}
