package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/driptech/admin-session/internal/errors"
)

type recordedCount struct {
	name string
	tags map[string]string
}

type recordingSink struct {
	counts  []recordedCount
	timings []string
}

func (r *recordingSink) Count(name string, _ int64, tags map[string]string) {
	r.counts = append(r.counts, recordedCount{name: name, tags: tags})
}
func (r *recordingSink) Gauge(string, float64, map[string]string) {}
func (r *recordingSink) Timing(name string, _ time.Duration, _ map[string]string) {
	r.timings = append(r.timings, name)
}

func TestEmitSession(t *testing.T) {
	sink := &recordingSink{}

	EmitSession(sink, SessionMetric{
		Event:    EventLogin,
		Result:   ResultError,
		Duration: 20 * time.Millisecond,
		Err:      apperrors.InvalidCredentials("bad password"),
	})

	if assert.Len(t, sink.counts, 1) {
		assert.Equal(t, "session.login", sink.counts[0].name)
		assert.Equal(t, map[string]string{"result": "error", "error_class": "invalid_credentials"}, sink.counts[0].tags)
	}
	assert.Equal(t, []string{"session.login.duration"}, sink.timings)
}

func TestEmitSession_IgnoresErrOnSuccessAndNilSink(t *testing.T) {
	sink := &recordingSink{}
	EmitSession(sink, SessionMetric{Event: EventRefresh, Result: ResultSuccess, Err: errors.New("ignored")})
	assert.Equal(t, map[string]string{"result": "success"}, sink.counts[0].tags)
	assert.Empty(t, sink.timings)

	EmitSession(nil, SessionMetric{Event: EventRefresh})
}

func TestCounters(t *testing.T) {
	c := NewCounters()
	f := Fanout{c, nil}

	EmitSession(f, SessionMetric{Event: EventForcedLogout, Result: ResultSuccess, Detail: "idle"})
	EmitSession(f, SessionMetric{Event: EventForcedLogout, Result: ResultSuccess})
	EmitSession(f, SessionMetric{Event: EventLogin, Result: ResultDenied})
	f.Count("raw", 2, nil)

	assert.Equal(t, int64(2), c.Get("session.forced_logout", ResultSuccess))
	assert.Equal(t, int64(1), c.Get("session.login", ResultDenied))
	assert.Equal(t, int64(2), c.Get("raw", ""))
	assert.Equal(t, []string{"raw", "session.forced_logout{success}", "session.login{denied}"}, c.Keys())
}
