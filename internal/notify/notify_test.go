package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/attendance-terminal/internal/config"
)

func sampleEvent() Event {
	return Event{
		PersonID:   "s1",
		PersonName: "Asha Verma",
		Category:   "student",
		Status:     StatusPresent,
		Time:       "09:00:00",
		Date:       "2026-10-17",
		At:         time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
	}
}

func TestRecipient(t *testing.T) {
	assert.Equal(t, "a@x", Recipient("parent@example.com", "", "a@x", "b@x"))
	assert.Equal(t, "parent@example.com", Recipient("parent@example.com", "", ""))
}

func TestEmailSink(t *testing.T) {
	var got emailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	sink := NewEmailSink(config.EmailJSConfig{
		URL: srv.URL, ServiceID: "svc", TemplateID: "tpl", DefaultRecipient: "parent@example.com",
	})
	require.NoError(t, sink.Notify(context.Background(), sampleEvent()))

	assert.Equal(t, "svc", got.ServiceID)
	assert.Equal(t, "tpl", got.TemplateID)
	assert.Equal(t, "parent@example.com", got.TemplateParams["to_email"])
	assert.Equal(t, "Present", got.TemplateParams["status"])
	assert.Equal(t, "Attendance marked as Present at 09:00:00.", got.TemplateParams["message"])
}

func TestEmailSink_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("The template ID is invalid"))
	}))
	defer srv.Close()

	sink := NewEmailSink(config.EmailJSConfig{URL: srv.URL, ServiceID: "svc", TemplateID: "bad"})
	err := sink.Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestRedisStreamSink(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sink := NewRedisStreamSink(client, "attendance:events")
	defer sink.Close()

	ctx := context.Background()
	require.NoError(t, sink.Notify(ctx, sampleEvent()))

	msgs, err := client.XRange(ctx, "attendance:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "s1", msgs[0].Values["person_id"])
	assert.Equal(t, "Present", msgs[0].Values["status"])
	assert.Equal(t, "2026-10-17", msgs[0].Values["date"])
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakePublisher struct {
	mu      sync.Mutex
	topics  []string
	payload []byte
	err     error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payload, _ = payload.([]byte)
	return newFakeToken(p.err)
}

func TestMQTTSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := &MQTTSink{client: pub, topic: "attendance/events"}

	require.NoError(t, sink.Notify(context.Background(), sampleEvent()))
	assert.Equal(t, []string{"attendance/events/student"}, pub.topics)

	var ev Event
	require.NoError(t, json.Unmarshal(pub.payload, &ev))
	assert.Equal(t, "Asha Verma", ev.PersonName)

	pub.err = errors.New("not connected")
	assert.Error(t, sink.Notify(context.Background(), sampleEvent()))
}

func TestMulti_JoinsErrors(t *testing.T) {
	var calls int
	ok := SinkFunc(func(context.Context, Event) error { calls++; return nil })
	bad := SinkFunc(func(context.Context, Event) error { calls++; return errors.New("down") })

	err := Multi{ok, bad, ok}.Notify(context.Background(), sampleEvent())
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDispatcher_DeliversAndDrains(t *testing.T) {
	var mu sync.Mutex
	var got []string
	sink := SinkFunc(func(_ context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.PersonID)
		return nil
	})

	d := NewDispatcher(sink, 2, 10, nil)
	for _, id := range []string{"a", "b", "c"} {
		ev := sampleEvent()
		ev.PersonID = id
		assert.True(t, d.Send(ev))
	}
	d.Close()

	assert.ElementsMatch(t, []string{"a", "b", "c"}, got)
	assert.False(t, d.Send(sampleEvent()), "send after close must be rejected")
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := SinkFunc(func(context.Context, Event) error { <-block; return nil })

	d := NewDispatcher(sink, 1, 1, nil)
	// First event occupies the worker, second fills the queue.
	require.True(t, d.Send(sampleEvent()))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, 5*time.Millisecond)
	require.True(t, d.Send(sampleEvent()))
	assert.False(t, d.Send(sampleEvent()))

	close(block)
	d.Close()
}
