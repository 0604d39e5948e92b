package config

const (
	// TopicIngestDocuments carries crawled documents to be chunked and stored.
	TopicIngestDocuments = "ingest.documents"

	// TopicIngestCompleted carries the outcome of every ingestion run.
	TopicIngestCompleted = "ingest.completed"
)

// ChannelIngestWorker is the consumer channel shared by ingestion workers.
const ChannelIngestWorker = "ingestion-worker"
