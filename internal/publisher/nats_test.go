package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"overlay.onebusaway.org/internal/metrics"
	"overlay.onebusaway.org/internal/models"
	"overlay.onebusaway.org/internal/refresh"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	messages []published
	err      error
	drained  bool
	closed   bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, published{subject: subject, data: data})
	return nil
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func (c *fakeConn) Close() { c.closed = true }

var _ refresh.Notifier = (*NATSPublisher)(nil)

func TestNotifyPublishesEvent(t *testing.T) {
	nc := &fakeConn{}
	m := metrics.New()
	p := newPublisher(nc, "", m, nil)

	ev := refresh.Event{
		Generation: 7,
		Reason:     refresh.ReasonRealtime,
		Categories: []models.FeedCategory{models.CategoryVehicles},
		At:         time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Notify(context.Background(), ev))

	require.Len(t, nc.messages, 1)
	assert.Equal(t, "overlay.generation.realtime", nc.messages[0].subject)

	var got refresh.Event
	require.NoError(t, json.Unmarshal(nc.messages[0].data, &got))
	assert.Equal(t, uint64(7), got.Generation)
	assert.Equal(t, []models.FeedCategory{models.CategoryVehicles}, got.Categories)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues(metrics.OutcomeSuccess)))
}

func TestNotifyPublishError(t *testing.T) {
	nc := &fakeConn{err: errors.New("nats: connection closed")}
	m := metrics.New()
	p := newPublisher(nc, "screens", m, nil)

	err := p.Notify(context.Background(), refresh.Event{Reason: refresh.ReasonSchedule})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "screens.schedule")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues(metrics.OutcomeFailure)))
}

func TestNotifyCancelledContext(t *testing.T) {
	nc := &fakeConn{}
	p := newPublisher(nc, "", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, p.Notify(ctx, refresh.Event{Reason: refresh.ReasonRealtime}), context.Canceled)
	assert.Empty(t, nc.messages)
}

func TestClose(t *testing.T) {
	nc := &fakeConn{}
	newPublisher(nc, "", nil, nil).Close()
	assert.True(t, nc.drained)
	assert.True(t, nc.closed)
}

func TestSubjectToken(t *testing.T) {
	tests := map[string]string{
		"realtime":  "realtime",
		" a.b ":     "a_b",
		"x > y":     "x___y",
		"":          "_",
		"route/10*": "route_10_",
	}
	for in, want := range tests {
		assert.Equal(t, want, subjectToken(in), in)
	}
}
