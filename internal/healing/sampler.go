package healing

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sampler provides process/host resource readings. The controller owns the
// only Sampler in the process; tests substitute scripted ones.
type Sampler interface {
	// Sample returns CPU and memory utilization in percent.
	Sample() (cpuPct, memPct float64, err error)
}

// SystemSampler reads live host utilization via gopsutil.
type SystemSampler struct{}

// Sample implements Sampler. cpu.Percent with a zero interval reports usage
// since the previous call, which matches the controller's tick cadence.
func (SystemSampler) Sample() (float64, float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	percs, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, err
	}
	cpuPct := 0.0
	if len(percs) > 0 {
		cpuPct = percs[0]
	}
	return cpuPct, vm.UsedPercent, nil
}
