package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	r, err := NewRecorder(dir)
	require.NoError(t, err)

	require.NoError(t, r.Record(Turn{Speaker: SpeakerUser, Message: "what is a goroutine?"}))
	require.NoError(t, r.Record(Turn{
		Speaker:       SpeakerAssistant,
		Message:       "A lightweight thread managed by the runtime.",
		Sources:       []string{"/docs/concurrency.md"},
		ContextChunks: []string{"Goroutines are lightweight threads."},
	}))
	require.NoError(t, r.Close())

	turns, err := Load(r.Path())
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, SpeakerUser, turns[0].Speaker)
	assert.Equal(t, "what is a goroutine?", turns[0].Message)
	assert.False(t, turns[0].Timestamp.IsZero())

	assert.Equal(t, SpeakerAssistant, turns[1].Speaker)
	assert.Equal(t, []string{"/docs/concurrency.md"}, turns[1].Sources)
	assert.Equal(t, []string{"Goroutines are lightweight threads."}, turns[1].ContextChunks)
}

func TestRecorder_FileNameIsUUID(t *testing.T) {
	dir := t.TempDir()

	r, err := NewRecorder(dir)
	require.NoError(t, err)
	defer r.Close()

	base := filepath.Base(r.Path())
	assert.True(t, strings.HasSuffix(base, ".jsonl"))
	_, err = uuid.Parse(strings.TrimSuffix(base, ".jsonl"))
	assert.NoError(t, err)
	assert.Equal(t, strings.TrimSuffix(base, ".jsonl"), r.ID())
}

func TestRecorder_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "sessions")

	r, err := NewRecorder(dir)
	require.NoError(t, err)
	defer r.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRecorder_OneJSONLinePerTurn(t *testing.T) {
	dir := t.TempDir()

	r, err := NewRecorder(dir)
	require.NoError(t, err)
	require.NoError(t, r.Record(Turn{Speaker: SpeakerUser, Message: "a"}))
	require.NoError(t, r.Record(Turn{Speaker: SpeakerAssistant, Message: "b"}))
	require.NoError(t, r.Close())

	raw, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	assert.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "{"), "each turn must be one JSON object per line")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.Error(t, err)
}

func TestLoad_SkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.jsonl")
	content := "{\"speaker\":\"user\",\"message\":\"hi\",\"timestamp\":\"2026-08-30T12:00:00Z\"}\n\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	turns, err := Load(path)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hi", turns[0].Message)
}
