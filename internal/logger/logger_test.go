package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New()
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("Expected info level, got %s", log.GetLevel())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":    zerolog.DebugLevel,
		" WARN ":   zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"":         zerolog.InfoLevel,
		"chatty":   zerolog.InfoLevel,
		"disabled": zerolog.Disabled,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Int("batch_size", 1000).Msg("flushing batch")

	output := buf.String()
	if !strings.Contains(output, "flushing batch") || !strings.Contains(output, `"batch_size":1000`) {
		t.Errorf("Unexpected log output: %s", output)
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	log := FromContext(ctx)
	log.Info().Msg("test")

	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContextOr(t *testing.T) {
	buf := &bytes.Buffer{}
	fallback := NewWithWriter(buf)

	log := FromContextOr(context.Background(), fallback)
	log.Info().Msg("fallback")
	if !strings.Contains(buf.String(), "fallback") {
		t.Errorf("Expected fallback logger to be used, got %q", buf.String())
	}

	other := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(other))
	log = FromContextOr(ctx, fallback)
	log.Info().Msg("scoped")
	if !strings.Contains(other.String(), "scoped") {
		t.Errorf("Expected context logger to be used, got %q", other.String())
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestWithComponentAndFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithComponent(NewWithWriter(buf), "refresh")
	log = WithFields(log, map[string]interface{}{"stage": "fetch"})

	log.Info().Msg("stage started")

	output := buf.String()
	if !strings.Contains(output, `"component":"refresh"`) || !strings.Contains(output, `"stage":"fetch"`) {
		t.Errorf("Expected component and stage fields, got: %s", output)
	}
}
