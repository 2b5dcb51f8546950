package statsd

import (
	"strconv"
	"sync"
	"time"
)

// Memory is a Sink that keeps rendered lines. Used by tests and when no
// StatsD endpoint is configured but callers still want to inspect output.
type Memory struct {
	mu    sync.Mutex
	lines []string
}

var _ Sink = (*Memory)(nil)

func (m *Memory) Count(name string, value int64, tags map[string]string) {
	m.add(Line("", name, strconv.FormatInt(value, 10), "c", nil, tags))
}

func (m *Memory) Gauge(name string, value float64, tags map[string]string) {
	m.add(Line("", name, strconv.FormatFloat(value, 'f', -1, 64), "g", nil, tags))
}

func (m *Memory) Timing(name string, value time.Duration, tags map[string]string) {
	m.add(Line("", name, strconv.FormatInt(value.Milliseconds(), 10), "ms", nil, tags))
}

// Lines returns a copy of everything recorded so far.
func (m *Memory) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

func (m *Memory) add(line string) {
	if line == "" {
		return
	}
	m.mu.Lock()
	m.lines = append(m.lines, line)
	m.mu.Unlock()
}
