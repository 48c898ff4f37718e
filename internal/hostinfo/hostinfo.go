// Package hostinfo samples the generator's own footprint and the host's
// memory pressure for the status bar.
package hostinfo

import (
	"os"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Sample is one reading. Fields stay zero for anything that could not be
// read; display code treats zero as "unknown".
type Sample struct {
	ProcCPUPercent float64
	ProcRSSBytes   uint64
	HostMemPercent float64
}

// Sampler reads process and host stats. Percent values are computed
// between consecutive Sample calls, so poll it at a fixed interval.
type Sampler struct {
	proc *process.Process
}

func NewSampler() (*Sampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Sampler{proc: p}, nil
}

// Sample takes a best-effort reading.
func (s *Sampler) Sample() Sample {
	var out Sample
	if cpu, err := s.proc.Percent(0); err == nil {
		out.ProcCPUPercent = cpu
	}
	if mi, err := s.proc.MemoryInfo(); err == nil && mi != nil {
		out.ProcRSSBytes = mi.RSS
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		out.HostMemPercent = vm.UsedPercent
	}
	return out
}
