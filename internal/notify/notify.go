package notify

import (
	"fmt"
	"sync"
)

// Level classifies a notification for presentation.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a transient, user-facing message.
type Notification struct {
	Level   Level
	Message string
}

// Notifier is implemented by the UI layer that renders transient notifications.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a plain function to the Notifier interface.
type Func func(n Notification)

func (f Func) Notify(n Notification) { f(n) }

// Discard drops every notification.
var Discard Notifier = Func(func(Notification) {})

// Infof sends an info-level notification.
func Infof(n Notifier, format string, args ...any) {
	n.Notify(Notification{Level: LevelInfo, Message: fmt.Sprintf(format, args...)})
}

// Errorf sends an error-level notification.
func Errorf(n Notifier, format string, args ...any) {
	n.Notify(Notification{Level: LevelError, Message: fmt.Sprintf(format, args...)})
}

// Successf sends a success-level notification.
func Successf(n Notifier, format string, args ...any) {
	n.Notify(Notification{Level: LevelSuccess, Message: fmt.Sprintf(format, args...)})
}

// Warnf sends a warning-level notification.
func Warnf(n Notifier, format string, args ...any) {
	n.Notify(Notification{Level: LevelWarning, Message: fmt.Sprintf(format, args...)})
}

// Recorder keeps every notification it receives. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	list []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, n)
}

// All returns a copy of the recorded notifications in arrival order.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.list))
	copy(out, r.list)
	return out
}

// Count returns how many notifications of the given level were recorded.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.list {
		if item.Level == level {
			n++
		}
	}
	return n
}
