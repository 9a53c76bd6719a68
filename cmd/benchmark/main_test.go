package main

import (
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	var sorted []time.Duration
	for i := 1; i <= 100; i++ {
		sorted = append(sorted, time.Duration(i)*time.Millisecond)
	}

	tests := []struct {
		p    float64
		want time.Duration
	}{
		{50, 50 * time.Millisecond},
		{95, 95 * time.Millisecond},
		{99, 99 * time.Millisecond},
		{100, 100 * time.Millisecond},
		{0, 1 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); got != tt.want {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("percentile of empty set = %v, want 0", got)
	}
}

func TestGenerateJobs(t *testing.T) {
	jobs := generateJobs(len(profiles)*2, 6, 7)
	if len(jobs) != len(profiles)*2 {
		t.Fatalf("expected %d jobs, got %d", len(profiles)*2, len(jobs))
	}

	seen := make(map[string]bool)
	for i, job := range jobs {
		if job.Profile != profiles[i%len(profiles)].name {
			t.Errorf("job %d: expected profile %s, got %s", i, profiles[i%len(profiles)].name, job.Profile)
		}
		if len(job.Records) == 0 {
			t.Errorf("job %d (%s): empty ledger", i, job.Profile)
		}
		if seen[job.MerchantID] {
			t.Errorf("duplicate merchant ID %s", job.MerchantID)
		}
		seen[job.MerchantID] = true
	}

	again := generateJobs(len(profiles)*2, 6, 7)
	for i := range jobs {
		if len(again[i].Records) != len(jobs[i].Records) || again[i].Records[0] != jobs[i].Records[0] {
			t.Errorf("job %d: generation is not reproducible", i)
		}
	}
}
