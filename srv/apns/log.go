package apns

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/uniqush/log"
)

// LogLevel is a bitset of the event classes a session reports.
type LogLevel uint16

const (
	LogNone  LogLevel = 0
	LogInfo  LogLevel = 1 << 0
	LogError LogLevel = 1 << 1
	LogDebug LogLevel = 1 << 2
	LogAll            = LogInfo | LogError | LogDebug
)

func (l LogLevel) String() string {
	if l == LogNone {
		return "none"
	}
	var names []string
	if l&LogInfo != 0 {
		names = append(names, "info")
	}
	if l&LogError != 0 {
		names = append(names, "error")
	}
	if l&LogDebug != 0 {
		names = append(names, "debug")
	}
	if rest := l &^ LogAll; rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint16(rest)))
	}
	return strings.Join(names, "|")
}

// LogHandler receives the log events of one session.
// It is called from a single goroutine owned by that session, never from the caller's goroutine.
type LogHandler func(level LogLevel, message string)

// NewLoggerHandler forwards events to a uniqush logger.
func NewLoggerHandler(logger log.Logger) LogHandler {
	return func(level LogLevel, message string) {
		switch level {
		case LogError:
			logger.Errorf("%s", message)
		case LogDebug:
			logger.Debugf("%s", message)
		default:
			logger.Infof("%s", message)
		}
	}
}

const logQueueSize = 256

type logEvent struct {
	level   LogLevel
	message string
}

// eventLog filters events by level and delivers them in order through a bounded queue.
// When the queue is full the event is dropped and counted rather than blocking a send.
type eventLog struct {
	level   uint32
	handler atomic.Value // LogHandler
	queue   chan logEvent
	dropped func()

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func newEventLog(level LogLevel, handler LogHandler, dropped func()) *eventLog {
	l := &eventLog{
		level:   uint32(level),
		queue:   make(chan logEvent, logQueueSize),
		dropped: dropped,
		done:    make(chan struct{}),
	}
	l.setHandler(handler)
	go l.run()
	return l
}

func (l *eventLog) run() {
	defer close(l.done)
	for ev := range l.queue {
		if h, _ := l.handler.Load().(LogHandler); h != nil {
			h(ev.level, ev.message)
		}
	}
}

func (l *eventLog) setLevel(level LogLevel) {
	atomic.StoreUint32(&l.level, uint32(level))
}

func (l *eventLog) getLevel() LogLevel {
	return LogLevel(atomic.LoadUint32(&l.level))
}

func (l *eventLog) setHandler(handler LogHandler) {
	if handler == nil {
		handler = func(LogLevel, string) {}
	}
	l.handler.Store(handler)
}

func (l *eventLog) logf(level LogLevel, format string, v ...interface{}) {
	if l.getLevel()&level == 0 {
		return
	}
	ev := logEvent{level: level, message: fmt.Sprintf(format, v...)}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		if l.dropped != nil {
			l.dropped()
		}
	}
}

func (l *eventLog) Infof(format string, v ...interface{})  { l.logf(LogInfo, format, v...) }
func (l *eventLog) Errorf(format string, v ...interface{}) { l.logf(LogError, format, v...) }
func (l *eventLog) Debugf(format string, v ...interface{}) { l.logf(LogDebug, format, v...) }

// close stops accepting events and waits until the queued ones were handled.
func (l *eventLog) close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()
	<-l.done
}
