package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", false)

	l.Info("скрыто")
	l.Warn("видно", "game_id", "g1")

	out := buf.String()
	if strings.Contains(out, "скрыто") {
		t.Fatalf("info не должен выводиться на уровне warn: %s", out)
	}
	if !strings.Contains(out, "game_id=g1") {
		t.Fatalf("ожидался атрибут game_id: %s", out)
	}
}

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "debug", true).Debug("msg", "k", 1)
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("ожидался json: %s", buf.String())
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info", false).With("conn", "c1")
	ctx := IntoContext(context.Background(), l)

	WithContext(ctx).Info("hello")
	if !strings.Contains(buf.String(), "conn=c1") {
		t.Fatalf("логгер из контекста потерял атрибуты: %s", buf.String())
	}
	if WithContext(context.Background()) != Get() {
		t.Fatalf("без логгера в контексте ожидался дефолтный")
	}
}
