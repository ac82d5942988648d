package messaging

// Topic constants for miner events
const (
	TopicJobs   = "miner.jobs"   // installed jobs
	TopicShares = "miner.shares" // submission outcomes
	TopicStats  = "miner.stats"  // round results and periodic status
)
