package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"worknode/features/job"
	"worknode/internal/content"
	"worknode/internal/failure"
	"worknode/internal/metrics"
	"worknode/internal/protocol"
	"worknode/internal/strategy/hash"
	"worknode/internal/worker"
)

type capturePublisher struct {
	mu      sync.Mutex
	topics  []string
	replies []protocol.Reply
	err     error
}

func (p *capturePublisher) Publish(topic string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	m, err := protocol.Decode(body)
	if err != nil {
		return err
	}
	p.topics = append(p.topics, topic)
	p.replies = append(p.replies, m.(protocol.Reply))
	return nil
}

func (p *capturePublisher) statuses() []protocol.Status {
	out := make([]protocol.Status, len(p.replies))
	for i, r := range p.replies {
		out[i] = r.Header().Status
	}
	return out
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}
func (m *MockJobRepo) List(ctx context.Context) ([]job.Job, error)          { return nil, nil }
func (m *MockJobRepo) Get(ctx context.Context, id string) (*job.Job, error) { return nil, nil }
func (m *MockJobRepo) Delete(ctx context.Context, id string) error          { return nil }
func (m *MockJobRepo) Count(ctx context.Context) (int, error)               { return 0, nil }

func encode(t *testing.T, m protocol.Message) []byte {
	t.Helper()
	body, err := protocol.Encode(m)
	require.NoError(t, err)
	return body
}

func newMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

var mpeg = content.NewReference("file:/a.mpg", "video/mpeg")

func TestDispatcher_HashComplete(t *testing.T) {
	pub := &capturePublisher{}
	strategy := worker.StrategyFunc[*protocol.HashRequest](func(_ context.Context, req *protocol.HashRequest, _ worker.Progress) ([]content.WorkResult, error) {
		assert.Equal(t, "MD5", req.Algorithm)
		return []content.WorkResult{{
			Reference: req.Sources[0],
			Details:   map[string]any{protocol.DetailHash: "fe974bb7f67f392239f077b61d649405"},
		}}, nil
	})
	d := worker.NewDispatcher[*protocol.HashRequest](strategy, pub, worker.Config{Listener: "hash"})

	req := protocol.NewHashRequest("hash.replies", []content.Reference{mpeg}, "MD5")
	err := d.HandleMessage(&nsq.Message{Body: encode(t, req)})
	require.NoError(t, err)

	assert.Equal(t, []protocol.Status{protocol.StatusInProgress, protocol.StatusComplete}, pub.statuses())
	for i, r := range pub.replies {
		assert.Equal(t, req.ID(), r.Header().RequestID)
		assert.Equal(t, "hash.replies", pub.topics[i])
	}

	final, ok := pub.replies[1].(*protocol.HashReply)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"file:/a.mpg": "fe974bb7f67f392239f077b61d649405"}, final.Digests())
}

func TestDispatcher_ProgressIsMonotonicAndClamped(t *testing.T) {
	pub := &capturePublisher{}
	strategy := worker.StrategyFunc[*protocol.HashRequest](func(_ context.Context, _ *protocol.HashRequest, p worker.Progress) ([]content.WorkResult, error) {
		for _, f := range []float64{-0.5, 0.25, 0.1, 0.6, 0.6, 1.7} {
			p.Report(f)
		}
		return nil, nil
	})
	d := worker.NewDispatcher[*protocol.HashRequest](strategy, pub, worker.Config{Listener: "hash"})

	req := protocol.NewHashRequest("r", []content.Reference{mpeg}, "MD5")
	require.NoError(t, d.Handle(context.Background(), encode(t, req)))

	var seen []float64
	for _, r := range pub.replies {
		if r.Header().Status == protocol.StatusInProgress && r.Header().Progress != nil {
			seen = append(seen, *r.Header().Progress)
		}
	}
	assert.Equal(t, []float64{0, 0.25, 0.6, 0.6, 1}, seen)
	assert.Equal(t, protocol.StatusComplete, pub.replies[len(pub.replies)-1].Header().Status)
}

func TestDispatcher_ReportAfterTerminalIgnored(t *testing.T) {
	pub := &capturePublisher{}
	var leaked worker.Progress
	strategy := worker.StrategyFunc[*protocol.HashRequest](func(_ context.Context, _ *protocol.HashRequest, p worker.Progress) ([]content.WorkResult, error) {
		leaked = p
		return nil, nil
	})
	d := worker.NewDispatcher[*protocol.HashRequest](strategy, pub, worker.Config{Listener: "hash"})

	require.NoError(t, d.Handle(context.Background(), encode(t, protocol.NewHashRequest("r", []content.Reference{mpeg}, "MD5"))))
	leaked.Report(0.5)

	assert.Equal(t, []protocol.Status{protocol.StatusInProgress, protocol.StatusComplete}, pub.statuses())
}

func TestDispatcher_WorkError(t *testing.T) {
	pub := &capturePublisher{}
	jobs := new(MockJobRepo)
	m := newMetrics(t)
	strategy := worker.StrategyFunc[*protocol.HashRequest](func(context.Context, *protocol.HashRequest, worker.Progress) ([]content.WorkResult, error) {
		return nil, errors.New("unsupported hash algorithm: WHIRLPOOL")
	})
	d := worker.NewDispatcher[*protocol.HashRequest](strategy, pub, worker.Config{
		Listener: "hash", Topic: "hash.request", Jobs: jobs, Metrics: m,
	})

	req := protocol.NewHashRequest("r", []content.Reference{mpeg}, "WHIRLPOOL")
	jobs.On("Save", mock.Anything, mock.MatchedBy(func(j *job.Job) bool {
		return j.RequestID == req.ID() && j.Topic == "hash.request" && j.Listener == "hash" &&
			j.Error == "unsupported hash algorithm: WHIRLPOOL"
	})).Return(nil)

	err := d.Handle(context.Background(), encode(t, req))
	assert.NoError(t, err, "work errors are answered, not retried")

	assert.Equal(t, []protocol.Status{protocol.StatusInProgress, protocol.StatusError}, pub.statuses())
	assert.Equal(t, "unsupported hash algorithm: WHIRLPOOL", pub.replies[1].Header().StatusDetail)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RepliesSent.WithLabelValues("hash", "ERROR")))
	jobs.AssertExpectations(t)
}

func TestDispatcher_UnavailableNotifiesGuard(t *testing.T) {
	pub := &capturePublisher{}
	var reacted []string
	guard := failure.NewGuard()
	guard.Register(failure.ReactionFunc(func(_ context.Context, cause *failure.UnavailableError) {
		reacted = append(reacted, cause.Component)
	}))
	strategy := worker.StrategyFunc[*protocol.TransformationRequest](func(context.Context, *protocol.TransformationRequest, worker.Progress) ([]content.WorkResult, error) {
		return nil, failure.Unavailablef("convert", "executable not found")
	})
	d := worker.NewDispatcher[*protocol.TransformationRequest](strategy, pub, worker.Config{Listener: "transform", Guard: guard})

	req := protocol.NewTransformationRequest("r",
		[]content.Reference{content.NewReference("file:///a.png", "image/png")},
		[]content.Reference{content.NewReference("file:///b.png", "image/png")}, nil)
	require.NoError(t, d.Handle(context.Background(), encode(t, req)))

	assert.Equal(t, []string{"convert"}, reacted)
	assert.Equal(t, protocol.StatusError, pub.replies[len(pub.replies)-1].Header().Status)
}

func TestDispatcher_PanicBecomesError(t *testing.T) {
	pub := &capturePublisher{}
	strategy := worker.StrategyFunc[*protocol.HashRequest](func(context.Context, *protocol.HashRequest, worker.Progress) ([]content.WorkResult, error) {
		panic("index out of range")
	})
	d := worker.NewDispatcher[*protocol.HashRequest](strategy, pub, worker.Config{Listener: "hash"})

	require.NoError(t, d.Handle(context.Background(), encode(t, protocol.NewHashRequest("r", []content.Reference{mpeg}, "MD5"))))
	require.Len(t, pub.replies, 2)
	assert.Contains(t, pub.replies[1].Header().StatusDetail, "index out of range")
}

func TestDispatcher_DropsUndecodable(t *testing.T) {
	pub := &capturePublisher{}
	m := newMetrics(t)
	called := false
	strategy := worker.StrategyFunc[*protocol.HashRequest](func(context.Context, *protocol.HashRequest, worker.Progress) ([]content.WorkResult, error) {
		called = true
		return nil, nil
	})
	d := worker.NewDispatcher[*protocol.HashRequest](strategy, pub, worker.Config{Listener: "hash", Metrics: m})

	bodies := [][]byte{
		[]byte("not json"),
		[]byte(`{"@type":"bogus"}`),
		encode(t, &protocol.Heartbeat{ComponentID: "x"}),
		encode(t, protocol.NewHashRequest("", []content.Reference{mpeg}, "MD5")),
	}
	for _, b := range bodies {
		assert.NoError(t, d.Handle(context.Background(), b))
	}
	assert.NoError(t, d.Handle(context.Background(), nil))

	assert.False(t, called)
	assert.Empty(t, pub.replies)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DecodeErrors.WithLabelValues("hash")))
}

func TestDispatcher_InvalidRequestAnswered(t *testing.T) {
	pub := &capturePublisher{}
	strategy := worker.StrategyFunc[*protocol.TransformationRequest](func(context.Context, *protocol.TransformationRequest, worker.Progress) ([]content.WorkResult, error) {
		t.Fatal("strategy must not run")
		return nil, nil
	})
	d := worker.NewDispatcher[*protocol.TransformationRequest](strategy, pub, worker.Config{Listener: "transform"})

	req := protocol.NewTransformationRequest("r",
		[]content.Reference{content.NewReference("file:///a.png", "image/png"), content.NewReference("file:///b.png", "image/png")},
		[]content.Reference{content.NewReference("file:///c.png", "image/png")}, nil)
	require.NoError(t, d.Handle(context.Background(), encode(t, req)))

	assert.Equal(t, []protocol.Status{protocol.StatusInProgress, protocol.StatusError}, pub.statuses())
	assert.Contains(t, pub.replies[1].Header().StatusDetail, "2 sources")
}

func TestDispatcher_PublishUnavailable(t *testing.T) {
	pub := &capturePublisher{err: failure.Unavailablef("nsqd", "not connected")}
	m := newMetrics(t)
	var reacted int
	guard := failure.NewGuard()
	guard.Register(failure.ReactionFunc(func(context.Context, *failure.UnavailableError) { reacted++ }))

	strategy := worker.StrategyFunc[*protocol.HashRequest](func(context.Context, *protocol.HashRequest, worker.Progress) ([]content.WorkResult, error) {
		return nil, nil
	})
	d := worker.NewDispatcher[*protocol.HashRequest](strategy, pub, worker.Config{Listener: "hash", Guard: guard, Metrics: m})

	require.NoError(t, d.Handle(context.Background(), encode(t, protocol.NewHashRequest("r", []content.Reference{mpeg}, "MD5"))))
	assert.Equal(t, 2, reacted)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReplyErrors.WithLabelValues("hash")))
}

func TestDispatcher_Timeout(t *testing.T) {
	pub := &capturePublisher{}
	strategy := worker.StrategyFunc[*protocol.HashRequest](func(ctx context.Context, _ *protocol.HashRequest, _ worker.Progress) ([]content.WorkResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d := worker.NewDispatcher[*protocol.HashRequest](strategy, pub, worker.Config{Listener: "hash", Timeout: 20 * time.Millisecond})

	require.NoError(t, d.Handle(context.Background(), encode(t, protocol.NewHashRequest("r", []content.Reference{mpeg}, "MD5"))))
	assert.Equal(t, context.DeadlineExceeded.Error(), pub.replies[1].Header().StatusDetail)
}

func TestDispatcher_BadContentURIDoesNotReact(t *testing.T) {
	store := content.NewStore(content.WithRoot(t.TempDir()))
	t.Cleanup(func() { store.Close() })

	uris := []string{
		"azblob://acct/key",
		"s3://bucket/key?bogus=1",
		"file:///etc/passwd/x",
		"file:///etc/shadow",
	}
	for _, uri := range uris {
		t.Run(uri, func(t *testing.T) {
			pub := &capturePublisher{}
			var reacted int
			guard := failure.NewGuard()
			guard.Register(failure.ReactionFunc(func(context.Context, *failure.UnavailableError) { reacted++ }))
			d := worker.NewDispatcher[*protocol.HashRequest](hash.New(store), pub, worker.Config{Listener: "hash", Guard: guard})

			req := protocol.NewHashRequest("r", []content.Reference{content.NewReference(uri, "")}, "MD5")
			require.NoError(t, d.Handle(context.Background(), encode(t, req)))

			require.NotEmpty(t, pub.replies)
			last := pub.replies[len(pub.replies)-1].Header()
			assert.Equal(t, protocol.StatusError, last.Status)
			assert.NotEmpty(t, last.StatusDetail)
			assert.Zero(t, reacted)
		})
	}
}

func TestDispatcher_WorkErrorKeepsRetryCount(t *testing.T) {
	pub := &capturePublisher{}
	jobs := new(MockJobRepo)
	strategy := worker.StrategyFunc[*protocol.HashRequest](func(context.Context, *protocol.HashRequest, worker.Progress) ([]content.WorkResult, error) {
		return nil, errors.New("source unreadable")
	})
	d := worker.NewDispatcher[*protocol.HashRequest](strategy, pub, worker.Config{Listener: "hash", Topic: "hash.request", Jobs: jobs})

	first := protocol.NewHashRequest("r", []content.Reference{mpeg}, "MD5")
	retried, err := protocol.Renew(first)
	require.NoError(t, err)
	jobs.On("Save", mock.Anything, mock.MatchedBy(func(j *job.Job) bool {
		return j.RequestID == retried.ID() && j.Retries == 1
	})).Return(nil)

	require.NoError(t, d.Handle(context.Background(), encode(t, retried)))
	jobs.AssertExpectations(t)
}
