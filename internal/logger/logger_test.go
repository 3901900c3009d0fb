package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer for testing.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false
	mu.Unlock()

	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}

	return buf, cleanup
}

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugLevelShowsAllMessages", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DEBUG")
		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.Contains(t, out, "debug message")
		assert.Contains(t, out, "info message")
		assert.Contains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})

	t.Run("WarnLevelHidesDebugAndInfo", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("WARN")
		Debug("debug message")
		Info("info message")
		Warn("warn message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.Contains(t, out, "warn message")
	})

	t.Run("InvalidLevelIsIgnored", func(t *testing.T) {
		SetLevel("INFO")
		SetLevel("BOGUS")
		assert.Equal(t, LevelInfo, Level(currentLevel.Load()))
	})
}

func TestFormatSwitching(t *testing.T) {
	t.Run("JSONFormatProducesParseableLines", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		SetFormat("json")
		Info("replay started", KeyOperation, "Replay", KeyLogEntrySeq, uint64(42))

		var decoded map[string]any
		line := strings.TrimSpace(buf.String())
		require.NoError(t, json.Unmarshal([]byte(line), &decoded))
		assert.Equal(t, "replay started", decoded["msg"])
		assert.Equal(t, "Replay", decoded[KeyOperation])
	})

	t.Run("InvalidFormatIsIgnored", func(t *testing.T) {
		SetFormat("text")
		SetFormat("xml")
		format, _ := currentFormat.Load().(string)
		assert.Equal(t, "text", format)
	})
}

func TestContextPropagation(t *testing.T) {
	t.Run("NewLogContextSetsOperationAndStartTime", func(t *testing.T) {
		lc := NewLogContext("Write")
		assert.Equal(t, "Write", lc.Operation)
		assert.False(t, lc.StartTime.IsZero())
	})

	t.Run("CloneIsIndependent", func(t *testing.T) {
		lc := &LogContext{Operation: "Write", VolumeID: "vol-0"}
		clone := lc.Clone()

		assert.Equal(t, lc.Operation, clone.Operation)
		assert.Equal(t, lc.VolumeID, clone.VolumeID)

		clone.Operation = "Read"
		assert.Equal(t, "Write", lc.Operation)
	})

	t.Run("WithVolumeDoesNotMutateOriginal", func(t *testing.T) {
		lc := NewLogContext("Write")
		lc2 := lc.WithVolume("vol-1")

		assert.Equal(t, "vol-1", lc2.VolumeID)
		assert.Equal(t, "", lc.VolumeID)
	})

	t.Run("InfoCtxInjectsContextFields", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetFormat("json")
		SetLevel("INFO")

		lc := NewLogContext("Write").WithVolume("vol-7").WithTrace("trace-1", "span-1")
		ctx := WithContext(context.Background(), lc)

		InfoCtx(ctx, "wrote block", KeyBlockID, uint64(9))

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "Write", decoded[KeyOperation])
		assert.Equal(t, "vol-7", decoded[KeyVolumeID])
		assert.Equal(t, "trace-1", decoded[KeyTraceID])
	})

	t.Run("FromContextReturnsNilWhenAbsent", func(t *testing.T) {
		assert.Nil(t, FromContext(context.Background()))
	})
}

func TestFieldConstructors(t *testing.T) {
	assert.Equal(t, KeyBlockID, BlockID(1).Key)
	assert.Equal(t, KeyChunkFP, ChunkFP("abcd").Key)
	assert.Equal(t, KeyContainerID, ContainerID(1).Key)

	zero := Err(nil)
	assert.True(t, zero.Equal(zero))
}

func TestWithBoundAttrs(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("json")
	SetLevel("INFO")

	l := With(KeyIndexName, "chunk-index")
	l.Info("lookup", KeyChunkFP, "deadbeef")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "chunk-index", decoded[KeyIndexName])
	assert.Equal(t, "deadbeef", decoded[KeyChunkFP])
}
