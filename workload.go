package subnet

import "time"

// GPUInfo is one accelerator reported by a miner.
type GPUInfo struct {
	Name     string `json:"name"`
	MemoryMB int64  `json:"memory_mb"`
	Driver   string `json:"driver,omitempty"`
}

// MachineSpecs is the hardware inventory a miner's host reports when a
// workload runs on it.
type MachineSpecs struct {
	Hostname      string    `json:"hostname"`
	OS            string    `json:"os"`
	Kernel        string    `json:"kernel"`
	CPUCount      int       `json:"cpu_count"`
	MemoryMB      int64     `json:"memory_mb"`
	DiskGB        int64     `json:"disk_gb"`
	DockerVersion string    `json:"docker_version,omitempty"`
	GPUs          []GPUInfo `json:"gpus,omitempty"`
}

// WorkloadDescriptor is the result of a workload submission.
type WorkloadDescriptor struct {
	MinerAddress  string
	PeerID        string
	DurationClass string
	Specs         MachineSpecs
	CollectedAt   time.Time
}
