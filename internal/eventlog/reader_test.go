package eventlog

import (
	"os"
	"path/filepath"
	"testing"

	"hatloop/internal/bus"
)

func writeLines(t *testing.T, path string, lines string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(lines); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestReadNewEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writeLines(t, path, `{"topic":"build.task","payload":"hello","ts":"2026-01-01T00:00:00Z"}
{"topic":"build.done","ts":"2026-01-01T00:00:01Z"}
`)

	reader := NewReader(path, nil)
	records, err := reader.ReadNew()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Topic != "build.task" || records[0].Payload != "hello" {
		t.Fatalf("first record = %+v", records[0])
	}
	if records[1].Payload != "" {
		t.Fatalf("payload should be optional, got %+v", records[1])
	}
}

func TestReaderTracksPosition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writeLines(t, path, `{"topic":"first","ts":"2026-01-01T00:00:00Z"}
`)

	reader := NewReader(path, nil)
	if records, _ := reader.ReadNew(); len(records) != 1 {
		t.Fatalf("expected first read to return 1 record")
	}

	writeLines(t, path, `{"topic":"second","ts":"2026-01-01T00:00:01Z"}
`)
	records, err := reader.ReadNew()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 1 || records[0].Topic != "second" {
		t.Fatalf("positioned read should only see new lines, got %+v", records)
	}
}

func TestReaderMissingFile(t *testing.T) {
	reader := NewReader(filepath.Join(t.TempDir(), "absent.jsonl"), nil)
	records, err := reader.ReadNew()
	if err != nil || len(records) != 0 {
		t.Fatalf("missing file should yield no events, got %v %v", records, err)
	}
}

func TestReaderSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writeLines(t, path, `{"topic":"good","ts":"2026-01-01T00:00:00Z"}
{corrupt json}
{"topic":"also_good","ts":"2026-01-01T00:00:01Z"}
`)

	reader := NewReader(path, nil)
	records, err := reader.ReadNew()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 || records[0].Topic != "good" || records[1].Topic != "also_good" {
		t.Fatalf("corrupt line handling broken: %+v", records)
	}
}

func TestReaderReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writeLines(t, path, `{"topic":"one","ts":"2026-01-01T00:00:00Z"}
`)

	reader := NewReader(path, nil)
	if _, err := reader.ReadNew(); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reader.Position() == 0 {
		t.Fatalf("position should advance")
	}
	reader.Reset()
	if records, _ := reader.ReadNew(); len(records) != 1 {
		t.Fatalf("reset should re-read from the start")
	}
}

func TestRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	recorder, err := NewRecorder(path)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	event := bus.Event{ID: "id-1", Sequence: 7, Topic: "impl.done", Payload: "ok", Source: "impl"}
	if err := recorder.Record(event); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reader := NewReader(path, nil)
	records, err := reader.ReadNew()
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	if len(records) != 1 || records[0].Topic != "impl.done" || records[0].Payload != "ok" {
		t.Fatalf("recorded event lost: %+v", records)
	}
}

func TestNilRecorderIsNoOp(t *testing.T) {
	var recorder *Recorder
	if err := recorder.Record(bus.Event{Topic: "x"}); err != nil {
		t.Fatalf("nil recorder should be a no-op, got %v", err)
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("nil close should be a no-op, got %v", err)
	}
}
