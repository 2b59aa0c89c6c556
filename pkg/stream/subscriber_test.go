package stream_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/3leaps/genwatch/pkg/jobapi"
	"github.com/3leaps/genwatch/pkg/stream"
	"github.com/3leaps/genwatch/test/apitest"
)

func newSubscriber(t *testing.T, srv *apitest.Server, logger *zap.Logger) *stream.Subscriber {
	t.Helper()
	sub, err := stream.NewSubscriber(stream.Config{BaseURL: srv.URL, Credential: "secret", Logger: logger})
	require.NoError(t, err)
	return sub
}

func drain(t *testing.T, events stream.Events) []stream.Event {
	t.Helper()
	var out []stream.Event
	for {
		ev, err := events.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
		require.Less(t, len(out), 100, "stream did not terminate")
	}
}

func TestSubscribe_DeliversEventsInOrder(t *testing.T) {
	srv := apitest.New(t, apitest.WithStream(
		apitest.Data(`{"status":"processing","progress":10,"remark":"queued"}`),
		apitest.Data(`{"status":"processing","progress":40,"remark":"rendering"}`),
		apitest.Data(`{"status":"completed","url":"https://x/v.mp4"}`),
		apitest.Done(),
	))
	events := newSubscriber(t, srv, nil).Subscribe(context.Background(), jobapi.JobHandle{JobID: "t1"})
	defer func() { _ = events.Close() }()

	got := drain(t, events)
	require.Len(t, got, 4)
	assert.Equal(t, stream.Event{Kind: stream.EventProcessing, Percent: 10, Remark: "queued"}, got[0])
	assert.Equal(t, stream.Event{Kind: stream.EventProcessing, Percent: 40, Remark: "rendering"}, got[1])
	assert.Equal(t, stream.Event{Kind: stream.EventCompleted, ResultURL: "https://x/v.mp4"}, got[2])
	assert.Equal(t, stream.EventStreamEnd, got[3].Kind)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/v1/tasks/t1/stream", reqs[0].Path)
	assert.Equal(t, "Bearer secret", reqs[0].Authorization)
}

func TestSubscribe_MalformedMessagesAreSkipped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	srv := apitest.New(t, apitest.WithStream(
		apitest.Data(`{"status":`),
		apitest.Data(`{"status":"mystery"}`),
		apitest.Data(`{"status":"processing","progress":55,"remark":"ok"}`),
		apitest.Done(),
	))
	events := newSubscriber(t, srv, zap.New(core)).Subscribe(context.Background(), jobapi.JobHandle{JobID: "t1"})
	defer func() { _ = events.Close() }()

	got := drain(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, 55, got[0].Percent)
	assert.Equal(t, stream.EventStreamEnd, got[1].Kind)
	assert.Equal(t, 2, logs.FilterMessage("Skipping malformed stream message").Len())
}

func TestSubscribe_OversizedMessageIsSkipped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	srv := apitest.New(t, apitest.WithStream(
		apitest.Data(strings.Repeat("x", 256)),
		apitest.Data(`{"status":"completed","url":"https://x/v.mp4"}`),
		apitest.Done(),
	))
	sub, err := stream.NewSubscriber(stream.Config{BaseURL: srv.URL, MaxLineBytes: 64, Logger: zap.New(core)})
	require.NoError(t, err)
	events := sub.Subscribe(context.Background(), jobapi.JobHandle{JobID: "t1"})
	defer func() { _ = events.Close() }()

	got := drain(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, stream.Event{Kind: stream.EventCompleted, ResultURL: "https://x/v.mp4"}, got[0])
	assert.Equal(t, stream.EventStreamEnd, got[1].Kind)
	assert.Equal(t, 1, logs.FilterMessage("Skipping malformed stream message").Len())
	assert.Zero(t, logs.FilterMessage("Progress stream failed").Len())
}

func TestSubscribe_TransportDropIsSynthesisedFailure(t *testing.T) {
	srv := apitest.New(t, apitest.WithStream(
		apitest.Data(`{"status":"processing","progress":20,"remark":"rendering"}`),
	))
	events := newSubscriber(t, srv, nil).Subscribe(context.Background(), jobapi.JobHandle{JobID: "t1"})
	defer func() { _ = events.Close() }()

	got := drain(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, stream.EventProcessing, got[0].Kind)

	last := got[1]
	assert.Equal(t, stream.EventFailed, last.Kind)
	assert.True(t, last.Connectivity())
	assert.Equal(t, jobapi.MsgConnLost, last.Message)
	assert.ErrorIs(t, last.Err, jobapi.ErrStream)
}

func TestSubscribe_CloseAfterTerminalWithoutSentinel(t *testing.T) {
	srv := apitest.New(t, apitest.WithStream(
		apitest.Data(`{"status":"failed","error":"quota exceeded"}`),
	))
	events := newSubscriber(t, srv, nil).Subscribe(context.Background(), jobapi.JobHandle{JobID: "t1"})
	defer func() { _ = events.Close() }()

	got := drain(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, stream.EventFailed, got[0].Kind)
	assert.Equal(t, "quota exceeded", got[0].Message)
	assert.False(t, got[0].Connectivity())
	assert.ErrorIs(t, got[0].Reason, jobapi.ErrTerminal)
}

func TestSubscribe_ConnectFailure(t *testing.T) {
	srv := apitest.New(t, apitest.WithAPIKey("other"))
	events := newSubscriber(t, srv, nil).Subscribe(context.Background(), jobapi.JobHandle{JobID: "t1"})

	ev, err := events.Next()
	require.NoError(t, err)
	assert.True(t, ev.Connectivity())

	var apiErr *jobapi.APIError
	require.ErrorAs(t, ev.Err, &apiErr)
	assert.Equal(t, 403, apiErr.StatusCode)

	_, err = events.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSubscribe_CloseIsIdempotent(t *testing.T) {
	srv := apitest.New(t)
	events := newSubscriber(t, srv, nil).Subscribe(context.Background(), jobapi.JobHandle{JobID: "t1"})

	require.NoError(t, events.Close())
	require.NoError(t, events.Close())

	_, err := events.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, srv.RequestCount(), "closed subscription must not connect")
}

func TestSubscribe_CloseUnblocksNext(t *testing.T) {
	srv := apitest.New(t, apitest.WithHoldOpen(), apitest.WithStream(
		apitest.Data(`{"status":"processing","progress":5}`),
	))
	events := newSubscriber(t, srv, nil).Subscribe(context.Background(), jobapi.JobHandle{JobID: "t1"})

	ev, err := events.Next()
	require.NoError(t, err)
	require.Equal(t, 5, ev.Percent)

	errCh := make(chan error, 1)
	go func() {
		_, err := events.Next()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, events.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
	require.NoError(t, events.Close())
}

func TestNewSubscriber_Validation(t *testing.T) {
	_, err := stream.NewSubscriber(stream.Config{})
	require.Error(t, err)

	_, err = stream.NewSubscriber(stream.Config{BaseURL: "http://x", StreamPath: "/v1/stream"})
	require.Error(t, err)
}
