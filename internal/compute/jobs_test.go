package compute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressFraction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"zero", 0, 10.0 / 110},
		{"complete", 100, 1},
		{"midway", 45, 0.5},
		{"negative clamps", -20, 10.0 / 110},
		{"overflow clamps", 250, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, ProgressFraction(tt.in), 1e-12)
		})
	}
}

func FuzzProgressFractionInRange(f *testing.F) {
	for _, seed := range []float64{0, 1, 50, 100, -1, 1e9} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, v float64) {
		if v != v {
			t.Skip()
		}
		got := ProgressFraction(v)
		if got < 10.0/110-1e-12 || got > 1+1e-12 {
			t.Fatalf("ProgressFraction(%v) = %v", v, got)
		}
	})
}

func TestParseJob(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"bundles", "compute_bundles", "/compute_bundles"} {
		job, err := ParseJob(in)
		require.NoError(t, err, in)
		assert.Equal(t, JobBundles, job)
	}
	job, err := ParseJob("bundles-and-network")
	require.NoError(t, err)
	assert.Equal(t, "compute_bundles_and_network", job.Endpoint())

	_, err = ParseJob("heatmap")
	require.Error(t, err)
}

func TestJobsHaveEndpoints(t *testing.T) {
	t.Parallel()

	for _, job := range Jobs() {
		assert.NotEmpty(t, job.Endpoint(), job)
	}
	assert.Equal(t, "compute_network", JobRoadNetwork.Endpoint())
	assert.Equal(t, "custom_job", jobLabel("/custom_job"))
}
