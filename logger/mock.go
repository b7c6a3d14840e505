package logger

import (
	"github.com/stretchr/testify/mock"
)

// MockLogger is a testify mock of Logger. Log methods record the message
// and the keysAndValues slice as two arguments, so expectations read
//
//	l.On("Info", "link: state changed", mock.Anything)
type MockLogger struct {
	mock.Mock
}

var _ Logger = (*MockLogger)(nil)

// NewMockLogger returns a MockLogger without expectations.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) { m.Called(msg, keysAndValues) }

func (m *MockLogger) Info(msg string, keysAndValues ...any) { m.Called(msg, keysAndValues) }

func (m *MockLogger) Warn(msg string, keysAndValues ...any) { m.Called(msg, keysAndValues) }

func (m *MockLogger) Error(msg string, keysAndValues ...any) { m.Called(msg, keysAndValues) }

func (m *MockLogger) Fatal(msg string, keysAndValues ...any) { m.Called(msg, keysAndValues) }

func (m *MockLogger) SetLevel(level LogLevel) { m.Called(level) }

func (m *MockLogger) Level() LogLevel {
	return m.Called().Get(0).(LogLevel)
}

// With returns the Logger configured with On("With", ...).Return(child).
func (m *MockLogger) With(keyValues ...any) Logger {
	return m.Called(keyValues...).Get(0).(Logger)
}
