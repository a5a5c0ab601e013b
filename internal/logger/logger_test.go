package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "info"},
		{"DEBUG", "debug"},
		{" warn ", "warn"},
		{"verbose", "info"},
		{"trace", "trace"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeLogLevel(tt.in))
		})
	}
}

func TestFormatFields(t *testing.T) {
	tests := []struct {
		name string
		kv   []any
		want string
	}{
		{"empty", nil, ""},
		{"plain", []any{"rule", "a", "count", 3}, " rule=a count=3"},
		{"quoted", []any{"reason", "bad date"}, ` reason="bad date"`},
		{"empty value", []any{"dest", ""}, ` dest=""`},
		{"missing value", []any{"orphan"}, " orphan=!MISSING"},
		{"error", []any{"err", errors.New("boom")}, " err=boom"},
		{"duration", []any{"took", 1500 * time.Millisecond}, " took=1.5s"},
		{"nil", []any{"v", nil}, " v=<nil>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatFields(tt.kv))
		})
	}
}

func TestFields_Sorted(t *testing.T) {
	kv := Fields(map[string]any{"b": 2, "a": 1})
	assert.Equal(t, []any{"a", 1, "b", 2}, kv)
}

func TestConsoleLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "warn")

	log.LogDebug("hidden")
	log.LogInfo("hidden too")
	log.LogWarn("shown", "rule", "a")
	log.LogError("also shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown rule=a")
	assert.Contains(t, out, "[ERROR] also shown")
}

func TestConsoleLogger_NoColorForBuffers(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "info")
	log.LogInfo("plain")

	assert.NotContains(t, buf.String(), "\x1b[")
	assert.True(t, strings.HasPrefix(buf.String(), "["))
}

func TestConsoleLogger_NilWriter(t *testing.T) {
	log := NewConsoleLogger(nil, "trace")
	assert.NotPanics(t, func() { log.LogError("dropped") })
}

func TestConsoleLogger_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "info")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			log.LogInfo("tick", "n", n)
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 20)
}

func TestWith_PrependsContext(t *testing.T) {
	var buf bytes.Buffer
	base := NewConsoleLogger(&buf, "info")
	log := With(With(base, "round", "r1"), "rule", "a")

	log.LogInfo("moved", "file", "x.m3u")

	assert.Contains(t, buf.String(), "moved round=r1 rule=a file=x.m3u")
}

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) LogTrace(m string, kv ...any) { r.lines = append(r.lines, "TRACE "+m) }
func (r *recordingLogger) LogDebug(m string, kv ...any) { r.lines = append(r.lines, "DEBUG "+m) }
func (r *recordingLogger) LogInfo(m string, kv ...any)  { r.lines = append(r.lines, "INFO "+m) }
func (r *recordingLogger) LogWarn(m string, kv ...any)  { r.lines = append(r.lines, "WARN "+m) }
func (r *recordingLogger) LogError(m string, kv ...any) { r.lines = append(r.lines, "ERROR "+m) }

func TestWith_ForeignLoggerReturnedUnchanged(t *testing.T) {
	rec := &recordingLogger{}
	assert.Same(t, rec, With(rec, "k", "v"))
}

func TestMultiLogger_FansOut(t *testing.T) {
	var buf bytes.Buffer
	rec := &recordingLogger{}
	ml := NewMultiLogger(NewConsoleLogger(&buf, "info"), nil, rec)

	ml.LogWarn("disk low", "free", "1%")

	assert.Contains(t, buf.String(), "[WARN] disk low free=1%")
	assert.Equal(t, []string{"WARN disk low"}, rec.lines)
}

func TestFileLogger_WritesRunLogAndSymlink(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLoggerWithLevel(dir, "debug")
	require.NoError(t, err)

	fl.LogTrace("too verbose")
	fl.LogDebug("scanned", "rule", "a")
	require.NoError(t, fl.Close())

	data, err := os.ReadFile(fl.RunFile())
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DEBUG] scanned rule=a")
	assert.NotContains(t, string(data), "too verbose")

	target, err := os.Readlink(filepath.Join(dir, "latest.log"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(fl.RunFile()), target)
}

func TestFileLogger_CloseTwice(t *testing.T) {
	fl, err := NewFileLogger(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, fl.Close())
	assert.NoError(t, fl.Close())
	assert.NotPanics(t, func() { fl.LogInfo("after close") })
}
