package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gitpress/internal/constants"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	IP        string    `json:"ip,omitempty"`
	Identity  string    `json:"identity,omitempty"`
	OpID      string    `json:"op_id,omitempty"`
	Details   string    `json:"details"`
	Severity  string    `json:"severity"`
}

// Logger appends JSON audit events to a dated file, capped per minute so a
// flood of failed logins cannot fill the disk.
type Logger struct {
	mu          sync.Mutex
	file        *os.File
	enc         *json.Encoder
	logCount    int
	windowStart time.Time
}

var (
	instance *Logger
	once     sync.Once
)

func GetLogger() (*Logger, error) {
	var err error
	once.Do(func() {
		instance, err = newLogger()
	})
	return instance, err
}

func newLogger() (*Logger, error) {
	dir, err := getLogDir()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	filename := filepath.Join(dir, fmt.Sprintf("audit-%s.log", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &Logger{
		file:        file,
		enc:         json.NewEncoder(file),
		windowStart: time.Now(),
	}, nil
}

func getLogDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", constants.AppName, "audit"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Logs", constants.AppName, "audit"), nil
	default:
		return filepath.Join(home, ".local", "share", constants.AppName, "audit"), nil
	}
}

func (l *Logger) Log(event Event) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.windowStart) > time.Minute {
		l.windowStart = now
		l.logCount = 0
	}
	if l.logCount >= constants.MaxAuditLogsPerMinute {
		return
	}
	l.logCount++

	event.Timestamp = now
	l.enc.Encode(event)
}

func (l *Logger) LogLoginSuccess(ip, identity string) {
	l.Log(Event{
		EventType: "login_success",
		IP:        ip,
		Identity:  identity,
		Details:   "Login successful",
		Severity:  "info",
	})
}

func (l *Logger) LogLoginFailure(ip, reason string) {
	l.Log(Event{
		EventType: "login_failure",
		IP:        ip,
		Details:   reason,
		Severity:  "warning",
	})
}

func (l *Logger) LogThrottled(ip string) {
	l.Log(Event{
		EventType: "login_throttled",
		IP:        ip,
		Details:   "Login attempt window exhausted",
		Severity:  "warning",
	})
}

func (l *Logger) LogSessionRejected(ip string) {
	l.Log(Event{
		EventType: "session_rejected",
		IP:        ip,
		Details:   "Missing or invalid session token",
		Severity:  "warning",
	})
}

func (l *Logger) LogRemoteOp(ip, identity, operation string) {
	l.Log(Event{
		EventType: "remote_op",
		IP:        ip,
		Identity:  identity,
		Details:   fmt.Sprintf("Remote operation %s", operation),
		Severity:  "info",
	})
}

func (l *Logger) LogPublishStart(opID, identity, summary string) {
	l.Log(Event{
		EventType: "publish_started",
		Identity:  identity,
		OpID:      opID,
		Details:   summary,
		Severity:  "info",
	})
}

func (l *Logger) LogPublishDone(opID, commitSHA string) {
	l.Log(Event{
		EventType: "publish_completed",
		OpID:      opID,
		Details:   fmt.Sprintf("Branch advanced to %s", commitSHA),
		Severity:  "info",
	})
}

func (l *Logger) LogPublishFailed(opID, stage, reason string) {
	l.Log(Event{
		EventType: "publish_failed",
		OpID:      opID,
		Details:   fmt.Sprintf("Failed at %s: %s", stage, reason),
		Severity:  "warning",
	})
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
