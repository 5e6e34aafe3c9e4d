package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", LogLevelDebug},
		{"DEBUG", LogLevelDebug},
		{"info", LogLevelInfo},
		{"error", LogLevelError},
		{"ERROR", LogLevelError},
		{"none", LogLevelNone},
		{"unknown", LogLevelInfo},
		{"", LogLevelInfo},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("ParseLogLevel_%s", test.input), func(t *testing.T) {
			assert.Equal(t, test.expected, ParseLogLevel(test.input))
		})
	}
}

func TestLogrusLogger_LogLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		shouldLog map[string]bool
	}{
		{
			name:      "debug level logs everything",
			level:     "debug",
			shouldLog: map[string]bool{"debug": true, "info": true, "error": true},
		},
		{
			name:      "info level logs info and error",
			level:     "info",
			shouldLog: map[string]bool{"debug": false, "info": true, "error": true},
		},
		{
			name:      "error level logs only error",
			level:     "error",
			shouldLog: map[string]bool{"debug": false, "info": false, "error": true},
		},
		{
			name:      "none level logs nothing",
			level:     "none",
			shouldLog: map[string]bool{"debug": false, "info": false, "error": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(Options{Level: tt.level, Output: &buf})

			log.Debugf("debug %s", "message")
			log.Infof("info %s", "message")
			log.Errorf("error %s", "message")

			out := buf.String()
			assert.Equal(t, tt.shouldLog["debug"], strings.Contains(out, "debug message"))
			assert.Equal(t, tt.shouldLog["info"], strings.Contains(out, "info message"))
			assert.Equal(t, tt.shouldLog["error"], strings.Contains(out, "error message"))
		})
	}
}

func TestLogrusLogger_JSONFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	base := New(Options{Level: "info", Format: "json", Output: &buf})

	child := Component(base, "guard").WithFields(map[string]interface{}{"path": "/admin"})
	child.Info("decision made")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "guard", entry["component"])
	assert.Equal(t, "/admin", entry["path"])
	assert.Equal(t, "decision made", entry["msg"])
}

func TestLogrusLogger_WithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	base := New(Options{Level: "info", Format: "json", Output: &buf})

	_ = base.WithField("request_id", "abc")
	base.Info("parent")

	assert.NotContains(t, buf.String(), "request_id")
}

func TestLogrusLogger_FatalfPanics(t *testing.T) {
	log := New(Options{Level: "none", Output: &bytes.Buffer{}})
	assert.PanicsWithValue(t, "boom 1", func() {
		log.Fatalf("boom %d", 1)
	})
}

func TestNoOpLogger(t *testing.T) {
	a := NoOp()
	b := NoOp()
	assert.Same(t, a, b)

	assert.NotPanics(t, func() {
		a.Debug("x")
		a.Infof("%d", 1)
		a.Errorf("%d", 2)
		a.Fatalf("never panics")
	})
	assert.Same(t, a, a.WithField("k", "v"))
	assert.Same(t, a, Component(nil, "anything"))
}
