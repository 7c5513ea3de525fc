package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/isofetch/internal/transfer"
)

type JobOutput struct {
	ID          string
	Label       string
	Status      string
	Message     string
	StreamLines []string
	Progress    transfer.State
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
	Index       int
}

type ErrorReport struct {
	Label string
	Error error
	Time  time.Time
}

// Manager redraws the status of every registered job on a fixed tick.
// All setters are safe to call from progress sinks.
type Manager struct {
	outputs     map[string]*JobOutput
	mutex       sync.RWMutex
	out         io.Writer
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	jobCount    int
	displayWg   sync.WaitGroup
}

func NewManager() *Manager {
	return NewManagerWithWriter(os.Stdout)
}

func NewManagerWithWriter(w io.Writer) *Manager {
	return &Manager{
		outputs:     make(map[string]*JobOutput),
		out:         w,
		doneCh:      make(chan struct{}),
		displayTick: 200 * time.Millisecond,
	}
}

func (m *Manager) Register(id, label string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.jobCount++
	m.outputs[id] = &JobOutput{
		ID:          id,
		Label:       label,
		Status:      "pending",
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		Index:       m.jobCount,
	}
}

func (m *Manager) update(id string, fn func(info *JobOutput)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		fn(info)
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) SetMessage(id, message string) {
	m.update(id, func(info *JobOutput) { info.Message = message })
}

func (m *Manager) SetStatus(id, status string) {
	m.update(id, func(info *JobOutput) { info.Status = status })
}

func (m *Manager) GetStatus(id string) string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if info, exists := m.outputs[id]; exists {
		return info.Status
	}
	return "unknown"
}

func (m *Manager) SetProgress(id string, s transfer.State) {
	m.update(id, func(info *JobOutput) {
		info.Progress = s
		info.StreamLines = []string{ProgressLine(s)}
	})
}

func (m *Manager) AddStreamLine(id, line string) {
	m.update(id, func(info *JobOutput) {
		info.StreamLines = append(info.StreamLines, wrapText(line, 2+4)...)
	})
}

func (m *Manager) Complete(id, message string) {
	m.update(id, func(info *JobOutput) {
		info.StreamLines = []string{}
		if message == "" {
			message = fmt.Sprintf("Completed %s", info.Label)
		}
		info.Message = message
		info.Complete = true
		info.Status = "success"
	})
}

func (m *Manager) ReportError(id string, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.Complete = true
		info.Status = "error"
		info.Error = err
		info.LastUpdated = time.Now()
		m.errors = append(m.errors, ErrorReport{Label: info.Label, Error: err, Time: time.Now()})
	}
}

// Summary returns the number of successful and failed jobs.
func (m *Manager) Summary() (success, failures int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, info := range m.outputs {
		switch info.Status {
		case "success":
			success++
		case "error":
			failures++
		}
	}
	return success, failures
}

func (m *Manager) GetStatusIndicator(status string) string {
	switch status {
	case "success":
		return successStyle.Render(StyleSymbols["pass"])
	case "error":
		return errorStyle.Render(StyleSymbols["fail"])
	case "paused", "warning":
		return warningStyle.Render(StyleSymbols["paused"])
	case "pending":
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styleMessage(status, message string) string {
	switch status {
	case "success":
		return successStyle.Render(message)
	case "error":
		return errorStyle.Render(message)
	case "paused", "warning":
		return warningStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

func (m *Manager) sortedJobs() []*JobOutput {
	jobs := make([]*JobOutput, 0, len(m.outputs))
	for _, info := range m.outputs {
		jobs = append(jobs, info)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Complete != jobs[j].Complete {
			return jobs[i].Complete
		}
		return jobs[i].Index < jobs[j].Index
	})
	return jobs
}

func (m *Manager) render() []string {
	var lines []string
	indent := strings.Repeat(" ", 2+4)
	for _, info := range m.sortedJobs() {
		elapsed := time.Since(info.StartTime).Round(time.Second)
		if info.Complete {
			elapsed = info.LastUpdated.Sub(info.StartTime).Round(time.Second)
		}
		message := info.Message
		if message == "" {
			message = info.Label
		}
		lines = append(lines, fmt.Sprintf("  %s %s %s", m.GetStatusIndicator(info.Status), debugStyle.Render(elapsed.String()), styleMessage(info.Status, message)))
		for _, line := range info.StreamLines {
			lines = append(lines, indent+streamStyle.Render(line))
		}
	}
	return lines
}

func (m *Manager) updateDisplay() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, termHeight := getTerminalSize()
	lines := m.render()
	if available := termHeight - 3; len(lines) > available && available > 0 {
		lines = lines[len(lines)-available:]
	}
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	for _, line := range lines {
		fmt.Fprintln(m.out, line)
	}
	m.numLines = len(lines)
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

func (m *Manager) ShowSummary() {
	success, failures := m.Summary()
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, "  "+totalStyle.Render(fmt.Sprintf("Completed %d of %d", success, len(m.outputs))))
	if failures > 0 {
		fmt.Fprintln(m.out, "  "+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.outputs))))
	}
	if len(m.errors) > 0 {
		fmt.Fprintln(m.out)
		fmt.Fprintln(m.out, "  "+errorStyle.Bold(true).Render("Errors:"))
		for i, report := range m.errors {
			fmt.Fprintf(m.out, "    %s %s %s\n",
				errorStyle.Render(fmt.Sprintf("%d.", i+1)),
				debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
				errorStyle.Render(report.Label))
			fmt.Fprintf(m.out, "      %s\n", errorStyle.Render(fmt.Sprintf("Error: %v", report.Error)))
		}
	}
	fmt.Fprintln(m.out)
}
