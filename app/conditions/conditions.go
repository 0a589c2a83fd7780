// Package conditions checks host metrics an entry requires before it can run.
// Requirements come from entry options: max_cpu, max_mem and min_disk_free in percents, max_load as 1 minute
// load average, disk_path for min_disk_free ("/" by default) and condition, a shell script expected to exit 0.
package conditions

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/umputun/beatstore/app/store"
)

// entry options checked
const (
	OptMaxCPU      = "max_cpu"
	OptMaxMem      = "max_mem"
	OptMaxLoad     = "max_load"
	OptMinDiskFree = "min_disk_free"
	OptDiskPath    = "disk_path"
	OptCondition   = "condition"
)

// Checker checks entry conditions against the host
type Checker struct {
	CPUInterval   time.Duration // cpu sampling, usage since the previous check if 0
	ScriptTimeout time.Duration // condition script limit

	cpuPercent func(interval time.Duration, perCPU bool) ([]float64, error)
	memory     func() (*mem.VirtualMemoryStat, error)
	loadAvg    func() (*load.AvgStat, error)
	diskUsage  func(path string) (*disk.UsageStat, error)
}

// NewChecker makes checker reading gopsutil metrics
func NewChecker(cpuInterval, scriptTimeout time.Duration) *Checker {
	if scriptTimeout <= 0 {
		scriptTimeout = 10 * time.Second
	}
	return &Checker{CPUInterval: cpuInterval, ScriptTimeout: scriptTimeout,
		cpuPercent: cpu.Percent, memory: mem.VirtualMemory, loadAvg: load.Avg, diskUsage: disk.Usage}
}

// Check returns true if all entry conditions are met, false with the reason otherwise.
// Entry without condition options always passes.
func (c *Checker) Check(e store.Entry) (bool, string) {
	opts := e.Options

	if v, ok := opts[OptMaxCPU]; ok {
		threshold, err := strconv.Atoi(v)
		if err != nil {
			return false, fmt.Sprintf("invalid %s %q", OptMaxCPU, v)
		}
		if ok, reason := c.checkCPU(threshold); !ok {
			return false, reason
		}
	}

	if v, ok := opts[OptMaxMem]; ok {
		threshold, err := strconv.Atoi(v)
		if err != nil {
			return false, fmt.Sprintf("invalid %s %q", OptMaxMem, v)
		}
		if ok, reason := c.checkMemory(threshold); !ok {
			return false, reason
		}
	}

	if v, ok := opts[OptMaxLoad]; ok {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return false, fmt.Sprintf("invalid %s %q", OptMaxLoad, v)
		}
		if ok, reason := c.checkLoadAvg(threshold); !ok {
			return false, reason
		}
	}

	if v, ok := opts[OptMinDiskFree]; ok {
		threshold, err := strconv.Atoi(v)
		if err != nil {
			return false, fmt.Sprintf("invalid %s %q", OptMinDiskFree, v)
		}
		path := opts[OptDiskPath]
		if path == "" {
			path = "/"
		}
		if ok, reason := c.checkDiskFree(threshold, path); !ok {
			return false, reason
		}
	}

	if script := opts[OptCondition]; script != "" {
		if ok, reason := c.checkScript(script); !ok {
			return false, reason
		}
	}
	return true, ""
}

func (c *Checker) checkCPU(threshold int) (bool, string) {
	pp, err := c.cpuPercent(c.CPUInterval, false)
	if err != nil {
		return false, fmt.Sprintf("failed to get CPU: %v", err)
	}
	if len(pp) == 0 {
		return false, "no CPU data available"
	}
	if current := int(pp[0]); current >= threshold {
		return false, fmt.Sprintf("CPU at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

func (c *Checker) checkMemory(threshold int) (bool, string) {
	v, err := c.memory()
	if err != nil {
		return false, fmt.Sprintf("failed to get memory: %v", err)
	}
	if current := int(v.UsedPercent); current >= threshold {
		return false, fmt.Sprintf("memory at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

func (c *Checker) checkLoadAvg(threshold float64) (bool, string) {
	v, err := c.loadAvg()
	if err != nil {
		return false, fmt.Sprintf("failed to get load average: %v", err)
	}
	if v.Load1 >= threshold {
		return false, fmt.Sprintf("load at %.2f, threshold %.2f", v.Load1, threshold)
	}
	return true, ""
}

func (c *Checker) checkDiskFree(minFree int, path string) (bool, string) {
	usage, err := c.diskUsage(path)
	if err != nil {
		return false, fmt.Sprintf("failed to get disk usage for %s: %v", path, err)
	}
	if free := 100 - int(usage.UsedPercent); free < minFree {
		return false, fmt.Sprintf("disk free at %d%%, need %d%% on %s", free, minFree, path)
	}
	return true, ""
}

func (c *Checker) checkScript(script string) (bool, string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.ScriptTimeout)
	defer cancel()
	if err := exec.CommandContext(ctx, "sh", "-c", script).Run(); err != nil { // nolint gosec
		return false, fmt.Sprintf("condition %q failed: %v", script, err)
	}
	return true, ""
}
