package sessionlog

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cogstate/internal/engine"
	"cogstate/internal/features"
	"cogstate/internal/logging"
	"cogstate/internal/pipeline"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecords() []pipeline.Record {
	return []pipeline.Record{
		{Kind: pipeline.KindContext, TimestampMs: 1000, NativeScript: true},
		{Kind: pipeline.KindKey, TimestampMs: 1010, KeyCode: 0x08, IsPress: true},
		{
			Kind:        pipeline.KindFeat,
			TimestampMs: 1020,
			Features:    features.Vector{F1: 140, F2: 100, F3: 0.05, F4: 6, F5: 1, F6: 0},
			Belief:      engine.Belief{0.7, 0.2, 0.1},
			Observation: 0,
			Outcome:     "applied",
		},
		{
			Kind:        pipeline.KindFeat,
			TimestampMs: 5000,
			Features:    features.Vector{F1: 2000, F5: 2},
			Belief:      engine.Belief{0.5, 0.35, 0.15},
			Observation: 25,
			Penalty:     true,
			Silence:     true,
			Outcome:     "penalty",
		},
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, v)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(path)
	require.NoError(t, err)
	sess, err := s.StartSession("host", "dev", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Session(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "host", got.Host)
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	sess, err := s.StartSession("laptop", "1.0.0", start)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.True(t, sess.Open())

	require.NoError(t, s.InsertRecords(sess.ID, sampleRecords()))
	require.NoError(t, s.EndSession(sess.ID, start.Add(time.Hour)))

	got, err := s.Session(sess.ID)
	require.NoError(t, err)
	assert.False(t, got.Open())
	assert.Equal(t, start, got.StartedAt)
	assert.Equal(t, start.Add(time.Hour), got.EndedAt)
	assert.Equal(t, 4, got.Records)
	assert.Equal(t, "1.0.0", got.Version)
}

func TestRecordsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.StartSession("", "", time.Now())
	require.NoError(t, err)

	want := sampleRecords()
	require.NoError(t, s.InsertRecords(sess.ID, want))

	got, err := s.Records(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUnknownSession(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Records("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.Session("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, s.EndSession("missing", time.Now()), ErrSessionNotFound)
	assert.ErrorIs(t, s.DeleteSession("missing"), ErrSessionNotFound)
}

func TestInsertIntoUnknownSessionFails(t *testing.T) {
	s := openTestStore(t)
	err := s.InsertRecords("missing", sampleRecords())
	assert.Error(t, err)
}

func TestSessionsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first, err := s.StartSession("", "", base)
	require.NoError(t, err)
	second, err := s.StartSession("", "", base.Add(time.Minute))
	require.NoError(t, err)

	list, err := s.Sessions()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestDeleteSessionCascades(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.StartSession("", "", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.InsertRecords(sess.ID, sampleRecords()))

	require.NoError(t, s.DeleteSession(sess.ID))

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&n))
	assert.Zero(t, n)
}

func TestWriterFlushesOnClose(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.StartSession("", "", time.Now())
	require.NoError(t, err)

	w := NewWriter(s, sess.ID, WriterConfig{BatchSize: 3, FlushInterval: time.Hour})
	for _, r := range sampleRecords() {
		w.Emit(r)
	}
	require.NoError(t, w.Close())

	got, err := s.Records(sess.ID)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, uint64(4), w.Written())
	assert.Zero(t, w.Dropped())
}

func TestWriterFlushesOnInterval(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.StartSession("", "", time.Now())
	require.NoError(t, err)

	w := NewWriter(s, sess.ID, WriterConfig{FlushInterval: 10 * time.Millisecond})
	defer w.Close()
	w.Emit(sampleRecords()[0])

	require.Eventually(t, func() bool { return w.Written() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestWriterDropsAfterClose(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.StartSession("", "", time.Now())
	require.NoError(t, err)

	w := NewWriter(s, sess.ID, WriterConfig{})
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Close(), ErrWriterClosed)

	w.Emit(sampleRecords()[0])
	assert.Equal(t, uint64(1), w.Dropped())
}

func TestWriterCountsStoreFailures(t *testing.T) {
	s := openTestStore(t)
	w := NewWriter(s, "missing", WriterConfig{})
	w.Emit(sampleRecords()[0])
	require.NoError(t, w.Close())

	assert.Equal(t, uint64(1), w.Failed())
	assert.Zero(t, w.Written())
}

func TestWriterPanicIsRecordedAndCloseReturns(t *testing.T) {
	var reports []logging.CrashReport
	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		CrashDir: t.TempDir(),
		Logger:   logging.NewWithWriter(&bytes.Buffer{}, nil),
		OnCrash:  func(r logging.CrashReport) { reports = append(reports, r) },
	})

	// A nil store panics on the first flush.
	w := NewWriter(nil, "s-1", WriterConfig{Crash: crash})
	w.Emit(sampleRecords()[0])

	closed := make(chan error, 1)
	go func() { closed <- w.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked after writer panic")
	}
	require.Len(t, reports, 1)
	assert.Equal(t, "goroutine", reports[0].Context["type"])
}

func TestExportValidates(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sess, err := s.StartSession("laptop", "1.0.0", start)
	require.NoError(t, err)
	require.NoError(t, s.InsertRecords(sess.ID, sampleRecords()))
	require.NoError(t, s.EndSession(sess.ID, start.Add(time.Minute)))

	doc, err := s.Export(sess.ID, start.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, Validate(doc))

	var buf bytes.Buffer
	require.NoError(t, WriteExport(&buf, doc))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, ExportFormat, decoded["format"])
	records := decoded["records"].([]any)
	require.Len(t, records, 4)

	feat := records[2].(map[string]any)
	assert.Equal(t, "feat", feat["kind"])
	assert.InDelta(t, 0.7, feat["belief"].(map[string]any)["flow"], 1e-12)
	assert.EqualValues(t, 0, feat["observation"])

	key := records[1].(map[string]any)
	assert.EqualValues(t, 8, key["key_code"])
	assert.NotContains(t, key, "belief")
}

func TestExportOpenSessionOmitsEnd(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.StartSession("", "", time.Now())
	require.NoError(t, err)

	doc, err := s.Export(sess.ID, time.Now())
	require.NoError(t, err)
	require.NoError(t, Validate(doc))

	data, err := json.Marshal(doc.Session)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "ended_at")
}

func TestValidateJSONRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"wrong format", `{"format":"v0","exported_at":"2026-01-01T00:00:00Z","session":{"id":"6f1c1b7e-4a43-4f7a-9a0e-1c2d3e4f5a6b","started_at":"2026-01-01T00:00:00Z","records":0},"records":[]}`},
		{"feat without belief", `{"format":"session-export-v1","exported_at":"2026-01-01T00:00:00Z","session":{"id":"6f1c1b7e-4a43-4f7a-9a0e-1c2d3e4f5a6b","started_at":"2026-01-01T00:00:00Z","records":1},"records":[{"kind":"feat","timestamp_ms":1,"observation":3,"native_script":false}]}`},
		{"bin out of range", `{"format":"session-export-v1","exported_at":"2026-01-01T00:00:00Z","session":{"id":"6f1c1b7e-4a43-4f7a-9a0e-1c2d3e4f5a6b","started_at":"2026-01-01T00:00:00Z","records":1},"records":[{"kind":"context","timestamp_ms":1,"observation":26,"native_script":false}]}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateJSON([]byte(tt.doc)))
		})
	}
}
