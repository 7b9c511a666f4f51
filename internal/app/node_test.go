package app

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worknode/internal/config"
	"worknode/internal/failure"
	"worknode/internal/metrics"
	"worknode/internal/transport"
)

func testConfig() *config.Config {
	return &config.Config{
		ComponentID:              "worknode",
		InstanceID:               "i-1",
		Transport:                config.TransportNSQ,
		NSQDHost:                 "127.0.0.1:1",
		TransformTool:            config.ToolImaging,
		Reaction:                 config.ReactionStop,
		ReactionDetached:         false,
		EnableHeart:              true,
		HeartbeatIntervalSeconds: 30,
	}
}

func testDeps(t *testing.T) *Dependencies {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Dependencies{DB: db, Publisher: &recordingPublisher{}}
}

type recordingPublisher struct {
	topics []string
}

func (r *recordingPublisher) Publish(topic string, _ []byte) error {
	r.topics = append(r.topics, topic)
	return nil
}

func (r *recordingPublisher) Ping() error { return nil }

func listenerNames(n *Node) []string {
	var names []string
	for _, l := range n.Listeners.Listeners() {
		names = append(names, l.Name())
	}
	return names
}

func TestNewNode_Topology(t *testing.T) {
	cfg := testConfig()
	cfg.EnableMonitor = true
	m, err := metrics.New(nil)
	require.NoError(t, err)

	n, err := NewNode(cfg, testDeps(t), config.DefaultListeners(), m, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"hash", "transformation", "monitor"}, listenerNames(n))
	assert.NotNil(t, n.Heart)
	assert.Error(t, n.Ready(), "nothing started yet")
}

func TestNewNode_HeartUsesPublisher(t *testing.T) {
	deps := testDeps(t)
	n, err := NewNode(testConfig(), deps, config.DefaultListeners(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, n.Heart.Beat(context.Background()))
	assert.Equal(t, []string{config.TopicHeartbeat}, deps.Publisher.(*recordingPublisher).topics)
}

func TestNewNode_TransformTools(t *testing.T) {
	for _, tool := range []string{config.ToolImaging, config.ToolImageMagick, config.ToolFFmpeg} {
		cfg := testConfig()
		cfg.TransformTool = tool
		_, err := NewNode(cfg, testDeps(t), config.DefaultListeners(), nil, nil)
		assert.NoError(t, err, tool)
	}

	cfg := testConfig()
	cfg.TransformTool = "gimp"
	_, err := NewNode(cfg, testDeps(t), config.DefaultListeners(), nil, nil)
	assert.ErrorIs(t, err, config.ErrInvalidValue)

	_, err = NewNode(testConfig(), testDeps(t), []config.Listener{{Name: "x", Kind: "resize", Topic: "t", Concurrency: 1}}, nil, nil)
	assert.ErrorIs(t, err, config.ErrInvalidListener)
}

func TestNewNode_StopReactionHaltsListeners(t *testing.T) {
	n, err := NewNode(testConfig(), testDeps(t), config.DefaultListeners(), nil, nil)
	require.NoError(t, err)

	assert.True(t, n.Guard.Notify(context.Background(), failure.Unavailablef("postgres", "connection refused")))

	select {
	case <-n.Listeners.Done():
	case <-time.After(time.Second):
		t.Fatal("listeners were not stopped")
	}
	assert.ErrorContains(t, n.Ready(), "postgres")
}

func TestNewNode_NoReaction(t *testing.T) {
	cfg := testConfig()
	cfg.Reaction = config.ReactionNone
	n, err := NewNode(cfg, testDeps(t), config.DefaultListeners(), nil, nil)
	require.NoError(t, err)

	n.Guard.Notify(context.Background(), failure.Unavailablef("postgres", "connection refused"))
	assert.ErrorIs(t, n.Ready(), transport.ErrNotStarted)
}
