package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ptparser/internal/pt"
)

type fakeConn struct {
	mu       sync.Mutex
	msgs     map[string][]byte
	failOn   string
	flushed  int
	drained  bool
	closed   bool
	subjects []string
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if subject == f.failOn {
		return errors.New("nats: connection closed")
	}
	if f.msgs == nil {
		f.msgs = map[string][]byte{}
	}
	f.msgs[subject] = data
	f.subjects = append(f.subjects, subject)
	return nil
}

func (f *fakeConn) Flush() error { f.flushed++; return nil }
func (f *fakeConn) Drain() error { f.drained = true; return nil }
func (f *fakeConn) Close()       { f.closed = true }

type countingMetrics struct {
	published, errs, observed int
}

func (m *countingMetrics) NATSPublishedInc()            { m.published++ }
func (m *countingMetrics) NATSPublishErrInc()           { m.errs++ }
func (m *countingMetrics) PublishObserve(time.Duration) { m.observed++ }
func (m *countingMetrics) NATSSetConnected(bool)        {}

func routes() []pt.Route {
	return []pt.Route{
		{ID: 1, Tags: map[string]string{"type": "route", "route": "bus", "name": "Line 1"}, Info: map[string]string{}},
		{ID: 2, Tags: map[string]string{"type": "route", "route": "light rail"}, Info: map[string]string{}},
		{ID: 3, Tags: map[string]string{"type": "associatedStreet"}, Info: map[string]string{}},
	}
}

func TestSubject(t *testing.T) {
	p := newPublisher(&fakeConn{}, zaptest.NewLogger(t), "pt.routes.", false, nil)
	rs := routes()

	assert.Equal(t, "pt.routes.bus.1", p.Subject(rs[0]))
	assert.Equal(t, "pt.routes.light_rail.2", p.Subject(rs[1]))
	assert.Equal(t, "pt.routes.associatedStreet.3", p.Subject(rs[2]))
	assert.Equal(t, "pt.routes._.4", p.Subject(pt.Route{ID: 4}))

	bare := newPublisher(&fakeConn{}, zaptest.NewLogger(t), "", false, nil)
	assert.Equal(t, "bus.1", bare.Subject(rs[0]))
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "a_b_c", subjectToken(" a.b*c "))
	assert.Equal(t, "x_y", subjectToken("x>y"))
	assert.Equal(t, "_", subjectToken("   "))
}

func TestPublishRoutes(t *testing.T) {
	nc := &fakeConn{}
	m := &countingMetrics{}
	p := newPublisher(nc, zaptest.NewLogger(t), "pt", true, m)

	sent, err := p.PublishRoutes(context.Background(), "run-1", routes())
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Equal(t, []string{"pt.bus.1", "pt.light_rail.2", "pt.associatedStreet.3"}, nc.subjects)
	assert.Equal(t, 1, nc.flushed)
	assert.Equal(t, 3, m.published)
	assert.Equal(t, 3, m.observed)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(nc.msgs["pt.bus.1"], &msg))
	assert.Equal(t, "run-1", msg["runId"])
	assert.Equal(t, float64(1), msg["id"])
	assert.Equal(t, "Line 1", msg["tags"].(map[string]any)["name"])
}

func TestPublishRoutes_ContinuesAfterFailure(t *testing.T) {
	nc := &fakeConn{failOn: "pt.light_rail.2"}
	m := &countingMetrics{}
	p := newPublisher(nc, zaptest.NewLogger(t), "pt", false, m)

	sent, err := p.PublishRoutes(context.Background(), "run-2", routes())
	assert.Error(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, m.errs)
	assert.Len(t, nc.msgs, 2)
}

func TestPublishRoutes_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newPublisher(&fakeConn{}, zaptest.NewLogger(t), "pt", false, nil)
	sent, err := p.PublishRoutes(ctx, "run-3", routes())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sent)
}

func TestClose(t *testing.T) {
	nc := &fakeConn{}
	newPublisher(nc, zaptest.NewLogger(t), "pt", false, nil).Close()
	assert.True(t, nc.drained)
	assert.True(t, nc.closed)
}
