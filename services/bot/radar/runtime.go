package radar

import "fmt"

// DefaultMemoryMaxMB is the memory ceiling applied when MEMORY_MAX is unset.
const DefaultMemoryMaxMB = 128

// DefaultCPUQuotaPercent is the CPU ceiling applied when CPU_QUOTA is unset.
const DefaultCPUQuotaPercent = 50.0

// Quota bounds the resources a single running bot may consume, expressed in
// the same units the sampler reports: RSS megabytes and CPU percent of one
// core.
type Quota struct {
	MemoryMaxMB     float64
	CPUQuotaPercent float64
}

// DefaultQuota returns the quota applied when no environment overrides are
// configured.
func DefaultQuota() Quota {
	return Quota{MemoryMaxMB: DefaultMemoryMaxMB, CPUQuotaPercent: DefaultCPUQuotaPercent}
}

// CheckRuntime compares one resource sample against q and returns a Verdict
// carrying at most one Finding per breached dimension. A sample that
// breaches both memory and CPU produces two findings and a Suspicious
// verdict; a sample within bounds produces an empty, non-suspicious one.
func (q Quota) CheckRuntime(memoryMB, cpuPercent float64) Verdict {
	var findings []Finding
	if memoryMB > q.MemoryMaxMB {
		findings = append(findings, Finding{
			Group:  GroupResourceExhaustion,
			Reason: fmt.Sprintf("memory usage exceeded quota: %.1fMB > %.1fMB", memoryMB, q.MemoryMaxMB),
			Weight: SuspiciousThreshold,
		})
	}
	if cpuPercent > q.CPUQuotaPercent {
		findings = append(findings, Finding{
			Group:  GroupResourceExhaustion,
			Reason: fmt.Sprintf("cpu usage %.1f%% exceeds quota of %.1f%%", cpuPercent, q.CPUQuotaPercent),
			Weight: SuspiciousThreshold,
		})
	}
	score := 0
	for _, f := range findings {
		score += f.Weight
	}
	return Verdict{Score: score, Suspicious: len(findings) > 0, Findings: findings}
}
