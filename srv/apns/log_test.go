package apns

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/uniqush/log"
	"github.com/uniqush/uniqush-apns/testutil"
)

type recordedEvent struct {
	level   LogLevel
	message string
}

type logRecorder struct {
	mutex  sync.Mutex
	events []recordedEvent
}

func (r *logRecorder) handle(level LogLevel, message string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, recordedEvent{level, message})
}

func (r *logRecorder) get() []recordedEvent {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func TestLogLevelString(t *testing.T) {
	testutil.ExpectStringEquals(t, "none", LogNone.String(), "none")
	testutil.ExpectStringEquals(t, "info|error|debug", LogAll.String(), "all")
	testutil.ExpectStringEquals(t, "error|0x10", (LogError | 0x10).String(), "unknown bit")
}

func TestEventLogFiltersByLevel(t *testing.T) {
	recorder := &logRecorder{}
	l := newEventLog(LogError|LogDebug, recorder.handle, nil)
	l.Infof("hidden %d", 1)
	l.Errorf("shown %d", 2)
	l.Debugf("shown %d", 3)
	l.setLevel(LogInfo)
	l.Errorf("hidden %d", 4)
	l.Infof("shown %d", 5)
	l.close()

	expected := []recordedEvent{
		{LogError, "shown 2"},
		{LogDebug, "shown 3"},
		{LogInfo, "shown 5"},
	}
	testutil.ExpectEquals(t, expected, recorder.get(), "delivered events")

	// Logging after close is a no-op, not a panic.
	l.Errorf("late")
	l.close()
}

func TestEventLogDropsWhenHandlerIsSlow(t *testing.T) {
	unblock := make(chan struct{})
	var handled, dropped int64
	handler := func(LogLevel, string) {
		<-unblock
		atomic.AddInt64(&handled, 1)
	}
	l := newEventLog(LogAll, handler, func() { atomic.AddInt64(&dropped, 1) })
	const total = logQueueSize + 100
	for i := 0; i < total; i++ {
		l.Infof("event %d", i)
	}
	close(unblock)
	l.close()

	// At most one event is being handled while the queue is full.
	if d := atomic.LoadInt64(&dropped); d < total-logQueueSize-1 {
		t.Errorf("Expected at least %d dropped events, got %d", total-logQueueSize-1, d)
	}
	testutil.ExpectEquals(t, int64(total), atomic.LoadInt64(&handled)+atomic.LoadInt64(&dropped), "handled + dropped")
}

func TestLoggerHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewLogger(&buf, "[APNS]", log.LOGLEVEL_DEBUG)
	l := newEventLog(LogAll, NewLoggerHandler(logger), nil)
	l.Errorf("bad token %s", "AB")
	l.Infof("connected")
	l.close()

	out := buf.String()
	for _, expected := range []string{"[APNS]", "bad token AB", "connected"} {
		if !strings.Contains(out, expected) {
			t.Errorf("Expected %q in the log output %q", expected, out)
		}
	}
}
