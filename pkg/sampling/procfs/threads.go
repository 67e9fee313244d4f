// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procfs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/antimetal/counterrates/pkg/sampling"
)

type taskParser func(data []byte) (sampling.Counters, error)

// ThreadKey is the snapshot key for one thread of a monitored process.
func ThreadKey(pid, tid int) string {
	return strconv.Itoa(pid) + "/" + strconv.Itoa(tid)
}

func (s *Source) monitoredPIDs() []int {
	if len(s.config.PIDs) == 0 {
		return []int{os.Getpid()}
	}
	return s.config.PIDs
}

// readThreads parses /proc/<pid>/task/<tid>/<file> for every thread of every
// monitored process. Threads that exit between listing and reading are
// skipped.
func (s *Source) readThreads(ctx context.Context, file string, parse taskParser) map[string]sampling.Counters {
	out := make(map[string]sampling.Counters)

	for _, pid := range s.monitoredPIDs() {
		taskDir := filepath.Join(s.config.HostProcPath, strconv.Itoa(pid), "task")
		entries, err := os.ReadDir(taskDir)
		if err != nil {
			s.logger.V(1).Info("Failed to list threads", "pid", pid, "error", err)
			continue
		}

		for _, entry := range entries {
			select {
			case <-ctx.Done():
				return out
			default:
			}

			tid, err := strconv.Atoi(entry.Name())
			if err != nil {
				continue
			}
			path := filepath.Join(taskDir, entry.Name(), file)
			data, err := os.ReadFile(path)
			if err != nil {
				s.logger.V(2).Info("Failed to read thread file", "path", path, "error", err)
				continue
			}
			counters, err := parse(data)
			if err != nil {
				s.logger.V(2).Info("Failed to parse thread file", "path", path, "error", err)
				continue
			}
			out[ThreadKey(pid, tid)] = counters
		}
	}
	return out
}

// parseTaskIO reads the "name: value" lines of /proc/<pid>/task/<tid>/io.
func parseTaskIO(data []byte) (sampling.Counters, error) {
	out := make(sampling.Counters)
	scanner := bufio.NewScanner(bytes.NewReader(data))

	for scanner.Scan() {
		name, value, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}
		counter := sampling.Counter(strings.TrimSpace(name))
		if !sampling.DomainIO.Accepts(counter) {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", counter, err)
		}
		out[counter] = v
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// parseSchedstat reads the three fields of schedstat: time on CPU (ns), time
// waiting on a runqueue (ns) and the number of timeslices run.
func parseSchedstat(data []byte) (sampling.Counters, error) {
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return nil, fmt.Errorf("schedstat has %d fields, expected 3", len(fields))
	}

	names := []sampling.Counter{
		sampling.CounterRunTicks,
		sampling.CounterWaitTicks,
		sampling.CounterContextSwitches,
	}
	out := make(sampling.Counters, len(names))
	for i, name := range names {
		v, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// statFields returns the fields of a stat line following the command name.
// The command is wrapped in parentheses and may itself contain spaces or
// parentheses, so the split happens at the last ')'. The returned slice
// starts at field 3 (state).
func statFields(data []byte) ([]string, error) {
	line := string(data)
	idx := strings.LastIndexByte(line, ')')
	if idx < 0 {
		return nil, fmt.Errorf("malformed stat line")
	}
	return strings.Fields(line[idx+1:]), nil
}

// statField returns stat field n (1-based, as numbered in proc(5)).
func statField(fields []string, n int) (int64, error) {
	i := n - 3
	if i < 0 || i >= len(fields) {
		return 0, fmt.Errorf("stat field %d out of range", n)
	}
	return strconv.ParseInt(fields[i], 10, 64)
}

func parseStatCounters(data []byte, columns map[sampling.Counter]int) (sampling.Counters, error) {
	fields, err := statFields(data)
	if err != nil {
		return nil, err
	}
	out := make(sampling.Counters, len(columns))
	for counter, n := range columns {
		v, err := statField(fields, n)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", counter, err)
		}
		out[counter] = v
	}
	return out, nil
}

func parseStatCPU(data []byte) (sampling.Counters, error) {
	return parseStatCounters(data, map[sampling.Counter]int{
		sampling.CounterUserTime:   14,
		sampling.CounterSystemTime: 15,
	})
}

func parseStatFaults(data []byte) (sampling.Counters, error) {
	return parseStatCounters(data, map[sampling.Counter]int{
		sampling.CounterMinorFaults: 10,
		sampling.CounterMajorFaults: 12,
	})
}
