package compute

import (
	"fmt"
	"strings"
)

// Job names a backend computation.
type Job string

// Known jobs.
const (
	JobBundles           Job = "bundles"
	JobRoadNetwork       Job = "network"
	JobBundlesAndRoadMap Job = "bundles-and-network"
)

var jobEndpoints = map[Job]string{
	JobBundles:           "compute_bundles",
	JobRoadNetwork:       "compute_network",
	JobBundlesAndRoadMap: "compute_bundles_and_network",
}

// Jobs lists every known job.
func Jobs() []Job {
	return []Job{JobBundles, JobRoadNetwork, JobBundlesAndRoadMap}
}

// Endpoint returns the backend path that starts j.
func (j Job) Endpoint() string {
	return jobEndpoints[j]
}

// ParseJob accepts a job name or its endpoint path.
func ParseJob(s string) (Job, error) {
	s = strings.Trim(strings.TrimSpace(s), "/")
	for job, endpoint := range jobEndpoints {
		if s == string(job) || s == endpoint {
			return job, nil
		}
	}
	return "", fmt.Errorf("unknown job %q", s)
}

// jobLabel names the run behind an arbitrary endpoint.
func jobLabel(endpoint string) string {
	if job, err := ParseJob(endpoint); err == nil {
		return string(job)
	}
	return strings.Trim(endpoint, "/")
}

// ProgressFraction maps the backend's algorithmProcess (0..100) onto the
// indicator range: 0 shows as 10/110 and 100 as a full bar. Out of range
// values are clamped first.
func ProgressFraction(algorithmProcess float64) float64 {
	p := algorithmProcess
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return (p + 10) / 110
}
