package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/signalsfoundry/propulsion-simulator/model"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(Component("fuel_tank")).Warn(context.Background(), "ullage pressure low",
		Phase(model.TimeIteration),
		Cycle(7),
		MissionTime(0.7),
		Err(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	want := map[string]any{
		"level":          "WARN",
		"msg":            "ullage pressure low",
		"component":      "fuel_tank",
		"phase":          model.TimeIteration.String(),
		"cycle":          float64(7),
		"mission_time_s": 0.7,
		"error":          "boom",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Fatalf("field %s = %v, want %v", k, rec[k], v)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "hidden")
	log.Error(context.Background(), "shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("level filtering failed: %q", buf.String())
	}
}

func TestErrNil(t *testing.T) {
	if f := Err(nil); f.Value != "<nil>" {
		t.Fatalf("Err(nil) = %v", f.Value)
	}
}

func TestRunIDIsStable(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if id == "" {
		t.Fatalf("EnsureRunID returned empty id")
	}
	ctx2, id2 := EnsureRunID(ctx)
	if id2 != id || RunIDFromContext(ctx2) != id {
		t.Fatalf("run id changed: %q -> %q", id, id2)
	}

	var buf bytes.Buffer
	_, log := WithRunLogger(ctx, New(Config{Format: "json", Output: &buf}))
	log.Info(ctx, "started")
	if !strings.Contains(buf.String(), `"run_id":"`+id+`"`) {
		t.Fatalf("run logger missing run_id: %q", buf.String())
	}
}

func TestContextLogger(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("expected no logger on empty context")
	}
	ctx := ContextWithLogger(context.Background(), nil)
	if LoggerFromContext(ctx) == nil {
		t.Fatalf("nil logger was not replaced with Noop")
	}
}
