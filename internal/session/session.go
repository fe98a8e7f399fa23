// Package session records chat transcripts as JSON lines, one file per
// conversation, so past sessions can be inspected or replayed with
// standard tooling.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Speaker values for Turn.
const (
	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
	SpeakerSystem    = "system"
)

// Turn is one transcript entry. Assistant turns carry the source paths
// and the context chunk texts that grounded the answer.
type Turn struct {
	Speaker       string    `json:"speaker"`
	Message       string    `json:"message"`
	Sources       []string  `json:"sources,omitempty"`
	ContextChunks []string  `json:"context_chunks,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Recorder appends turns to a transcript file. Not safe for concurrent
// use; the chat loop is sequential.
type Recorder struct {
	id   string
	path string
	f    *os.File
	w    *bufio.Writer
	enc  *json.Encoder
}

// NewRecorder opens a fresh transcript in dir, creating the directory if
// needed. The file name is a random UUID with a .jsonl extension.
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	id := uuid.NewString()
	path := filepath.Join(dir, id+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating transcript: %w", err)
	}

	w := bufio.NewWriter(f)
	return &Recorder{id: id, path: path, f: f, w: w, enc: json.NewEncoder(w)}, nil
}

// ID returns the session's UUID.
func (r *Recorder) ID() string { return r.id }

// Path returns the transcript file path.
func (r *Recorder) Path() string { return r.path }

// Record appends one turn. A zero Timestamp is filled with the current
// time. The line is flushed immediately so a crash loses nothing.
func (r *Recorder) Record(turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	if err := r.enc.Encode(turn); err != nil {
		return fmt.Errorf("writing transcript turn: %w", err)
	}
	if err := r.w.Flush(); err != nil {
		return fmt.Errorf("flushing transcript: %w", err)
	}
	return nil
}

// Close flushes and closes the transcript file.
func (r *Recorder) Close() error {
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return fmt.Errorf("flushing transcript: %w", err)
	}
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("closing transcript: %w", err)
	}
	return nil
}

// Load reads a transcript back into turns. Blank lines are skipped;
// a malformed line fails the whole read.
func Load(path string) ([]Turn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()

	var turns []Turn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var turn Turn
		if err := json.Unmarshal(line, &turn); err != nil {
			return nil, fmt.Errorf("parsing transcript line: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	return turns, nil
}
