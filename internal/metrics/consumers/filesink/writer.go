// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package filesink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/antimetal/counterrates/internal/metrics"
	"github.com/antimetal/counterrates/internal/runtime"
	"github.com/antimetal/counterrates/pkg/sampling"
)

// Line types written to a rate file. Every file starts with one header line.
const (
	lineHeader = "header"
	lineRecord = "record"
)

type headerLine struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	Version    string `json:"version"`
	CreatedAt  string `json:"created_at"`
}

type recordLine struct {
	Type        string            `json:"type"`
	Domain      sampling.Domain   `json:"domain"`
	EventType   metrics.EventType `json:"event_type"`
	NodeName    string            `json:"node_name,omitempty"`
	ClusterName string            `json:"cluster_name,omitempty"`
	StartMillis int64             `json:"start_millis"`
	EndMillis   int64             `json:"end_millis"`
	Data        any               `json:"data"`
}

// Writer writes rate records as JSON Lines.
type Writer struct {
	buf           *bufio.Writer
	headerWritten bool
}

// NewWriter creates a new rate file writer
func NewWriter(w io.Writer, bufferSize int) *Writer {
	return &Writer{buf: bufio.NewWriterSize(w, bufferSize)}
}

// WriteHeader writes the line identifying the agent that produced the file.
func (w *Writer) WriteHeader(now time.Time) (int64, error) {
	if w.headerWritten {
		return 0, fmt.Errorf("header already written")
	}
	inst := runtime.GetInstance()
	n, err := w.writeLine(headerLine{
		Type:       lineHeader,
		InstanceID: inst.ID.String(),
		Version:    inst.Version,
		CreatedAt:  now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return n, err
	}
	w.headerWritten = true
	return n, nil
}

// WriteRecord appends one event and returns the bytes written.
func (w *Writer) WriteRecord(event metrics.MetricEvent) (int64, error) {
	if !w.headerWritten {
		return 0, fmt.Errorf("header not written")
	}
	return w.writeLine(recordLine{
		Type:        lineRecord,
		Domain:      event.Domain,
		EventType:   event.EventType,
		NodeName:    event.NodeName,
		ClusterName: event.ClusterName,
		StartMillis: event.StartMillis,
		EndMillis:   event.EndMillis,
		Data:        event.Data,
	})
}

func (w *Writer) writeLine(v any) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal line: %w", err)
	}
	data = append(data, '\n')
	n, err := w.buf.Write(data)
	if err != nil {
		return int64(n), fmt.Errorf("failed to write line: %w", err)
	}
	return int64(n), nil
}

// Flush writes buffered lines to the underlying writer.
func (w *Writer) Flush() error {
	return w.buf.Flush()
}
