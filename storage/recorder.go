package storage

import (
	"context"

	"github.com/evermem/membench/llm"
)

// CallLog persists every model call to an append-only JSONL log. It
// implements llm.Recorder so the client records calls transparently.
type CallLog struct {
	log *Log[llm.CallRecord]
}

// NewCallLog opens (or creates) the call log at path.
func NewCallLog(path string) (*CallLog, error) {
	log, err := OpenLog[llm.CallRecord](path)
	if err != nil {
		return nil, err
	}
	return &CallLog{log: log}, nil
}

// Record appends one call record. Records are kept even when the
// surrounding context has been cancelled; a call that happened should
// be visible in the log.
func (c *CallLog) Record(_ context.Context, rec *llm.CallRecord) error {
	return c.log.Append(*rec)
}

// Path returns the file path backing the call log.
func (c *CallLog) Path() string {
	return c.log.Path()
}

// Close flushes and closes the underlying log.
func (c *CallLog) Close() error {
	return c.log.Close()
}
