package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew_JSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New("debug", "json", &buf)
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("level = %v", l.GetLevel())
	}
	l.WithField("partition", 3).Debug("hello")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "hello" || rec["partition"] != float64(3) {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New("loud", "text", &buf)
	if l.GetLevel() != logrus.InfoLevel {
		t.Fatalf("level = %v", l.GetLevel())
	}
	l.Debug("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("debug line should be filtered at info")
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatalf("OrDiscard(nil) returned nil")
	}
}
