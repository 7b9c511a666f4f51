package config

const (
	// TopicHashRequest carries hash requests to the hash listener.
	TopicHashRequest = "worknode.hash.request"

	// TopicTransformationRequest carries transformation requests.
	TopicTransformationRequest = "worknode.transformation.request"

	// TopicHeartbeat is where every component publishes its heartbeat.
	TopicHeartbeat = "worknode.heartbeat"

	// ChannelWorker is shared by all worker instances so each request is
	// handled once.
	ChannelWorker = "worker"

	// ChannelMonitor is the heartbeat monitor's channel.
	ChannelMonitor = "monitor"
)
