package jobstate

import "github.com/cuongbtq/doc-converter/internal/domain"

// StatusKey returns the Redis key holding a job's status
func StatusKey(handle domain.JobHandle) string {
	return "job:" + string(handle)
}

// InFlightKey returns the Redis key claiming key for a running job
func InFlightKey(key domain.CacheKey) string {
	return "inflight:" + key.String()
}
