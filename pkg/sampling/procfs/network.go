// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procfs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/antimetal/counterrates/pkg/sampling"
)

// readNetwork reads the three network counter sets. Each file is read
// independently so a host without IPv6 still reports IPv4 and device counters.
func (s *Source) readNetwork() map[string]sampling.Counters {
	out := make(map[string]sampling.Counters, 3)

	readers := []struct {
		key   string
		file  string
		parse func(io.Reader) (sampling.Counters, error)
	}{
		{sampling.KeyIPv4, filepath.Join(s.config.HostProcPath, "net", "snmp"), parseSnmpIP},
		{sampling.KeyIPv6, filepath.Join(s.config.HostProcPath, "net", "snmp6"), parseSnmp6},
		{sampling.KeyDevice, filepath.Join(s.config.HostProcPath, "net", "dev"), parseNetDev},
	}

	for _, r := range readers {
		counters, err := readCounterFile(r.file, r.parse)
		if err != nil {
			s.logger.V(1).Info("Failed to read network counters", "file", r.file, "error", err)
			continue
		}
		out[r.key] = counters
	}
	return out
}

func readCounterFile(path string, parse func(io.Reader) (sampling.Counters, error)) (sampling.Counters, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	counters, err := parse(file)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return counters, nil
}

// parseSnmpIP reads the "Ip:" section of /proc/net/snmp, which is a header
// line of counter names followed by a line of values.
func parseSnmpIP(r io.Reader) (sampling.Counters, error) {
	scanner := bufio.NewScanner(r)
	var header []string

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] != "Ip:" {
			continue
		}
		if header == nil {
			header = fields[1:]
			continue
		}

		values := fields[1:]
		if len(values) != len(header) {
			return nil, fmt.Errorf("snmp Ip header has %d fields but values have %d", len(header), len(values))
		}
		out := make(sampling.Counters)
		for i, name := range header {
			counter := sampling.Counter(name)
			if !sampling.DomainNetwork.Accepts(counter) {
				continue
			}
			if v, err := strconv.ParseInt(values[i], 10, 64); err == nil {
				out[counter] = v
			}
		}
		return out, nil
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("no Ip section in snmp")
}

// parseSnmp6 reads /proc/net/snmp6, one "name value" pair per line.
func parseSnmp6(r io.Reader) (sampling.Counters, error) {
	out := make(sampling.Counters)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		counter := sampling.Counter(fields[0])
		if !sampling.DomainNetwork.Accepts(counter) {
			continue
		}
		if v, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
			out[counter] = v
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// parseNetDev sums receive and transmit bytes and packets over every
// interface in /proc/net/dev.
func parseNetDev(r io.Reader) (sampling.Counters, error) {
	out := sampling.Counters{
		sampling.CounterDevInBytes:    0,
		sampling.CounterDevInPackets:  0,
		sampling.CounterDevOutBytes:   0,
		sampling.CounterDevOutPackets: 0,
	}
	columns := []struct {
		index   int
		counter sampling.Counter
	}{
		{0, sampling.CounterDevInBytes},
		{1, sampling.CounterDevInPackets},
		{8, sampling.CounterDevOutBytes},
		{9, sampling.CounterDevOutPackets},
	}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		// Skip the two header lines
		if lineNum <= 2 {
			continue
		}

		_, stats, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}
		fields := strings.Fields(stats)
		if len(fields) < 16 {
			continue
		}
		for _, col := range columns {
			if v, err := strconv.ParseInt(fields[col.index], 10, 64); err == nil {
				out[col.counter] += v
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
