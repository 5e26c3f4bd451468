// Package hostinfo provides utilities for retrieving host system information,
// including OS, architecture, CPU, memory, and GPU details.
package hostinfo

import (
	"bytes"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostInfo represents the system's host information, including OS, architecture, CPU, memory, and GPU details.
type HostInfo struct {
	OS     string    `json:"os"`
	Arch   string    `json:"arch"`
	CPUs   int       `json:"cpus"`
	Memory Memory    `json:"memory"`
	GPUs   []GPUInfo `json:"gpus"`
}

// Memory represents the total memory available on the system.
type Memory struct {
	Total uint64 `json:"total"`
}

type GPUInfo struct {
	Model              string
	TotalNumberOfCores string
	MetalSupport       string
}

// GetHostInfo retrieves information about the host system, including OS, architecture, CPU, memory, and GPU details.
func GetHostInfo() (HostInfo, error) {
	hostInfo := HostInfo{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
		CPUs: runtime.NumCPU(),
	}

	if err := populateMemoryInfo(&hostInfo); err != nil {
		return HostInfo{}, fmt.Errorf("failed to retrieve memory info: %w", err)
	}

	// GPU info is best-effort: a laptop with no discrete GPU, or a CI
	// sandbox with no display subsystem, isn't a preflight failure.
	populateGPUInfo(&hostInfo)

	return hostInfo, nil
}

// populateMemoryInfo populates the memory information in the HostInfo struct.
func populateMemoryInfo(hostInfo *HostInfo) error {
	vmStat, err := mem.VirtualMemory()
	if err != nil {
		return err
	}
	hostInfo.Memory = Memory{Total: vmStat.Total}
	return nil
}

// FreeDiskBytes reports free space on the filesystem containing path,
// used by the preflight check to enforce the minimum free-space floor.
func FreeDiskBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// populateGPUInfo populates the GPU information in the HostInfo struct,
// swallowing errors since GPU presence is informational only.
func populateGPUInfo(hostInfo *HostInfo) {
	switch runtime.GOOS {
	case "darwin":
		if gpus, err := getMacOSGPUInfo(); err == nil {
			hostInfo.GPUs = gpus
		}
	default:
		if gpu, ok := detectNvidiaSMI(); ok {
			hostInfo.GPUs = append(hostInfo.GPUs, gpu)
		}
	}
}

// detectNvidiaSMI checks for an nvidia-smi binary on PATH and, if
// present, asks it for the card name. Linux/Windows GPU enumeration
// this way avoids a cgo/ghw dependency in exchange for only detecting
// NVIDIA hardware, which covers the overwhelming majority of local-LLM
// hosts that care about GPU offload.
func detectNvidiaSMI() (GPUInfo, bool) {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil || path == "" {
		return GPUInfo{}, false
	}
	cmd := exec.Command("nvidia-smi", "--query-gpu=name", "--format=csv,noheader")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return GPUInfo{Model: "nvidia (unknown model)"}, true
	}
	name := strings.TrimSpace(strings.SplitN(out.String(), "\n", 2)[0])
	if name == "" {
		name = "nvidia (unknown model)"
	}
	return GPUInfo{Model: name}, true
}

// getMacOSGPUInfo retrieves GPU information specific to macOS systems.
func getMacOSGPUInfo() ([]GPUInfo, error) {
	cmd := exec.Command("system_profiler", "SPDisplaysDataType")

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}

	return parseMacOSGPUInfo(out.String())
}

// parseMacOSGPUInfo parses the output of the macOS system_profiler command to extract GPU information.
func parseMacOSGPUInfo(input string) ([]GPUInfo, error) {
	lines := strings.Split(input, "\n")
	var gpus []GPUInfo
	var current GPUInfo
	anyFieldSet := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "Chipset Model:") {
			if anyFieldSet {
				gpus = append(gpus, current)
				current = GPUInfo{}
				anyFieldSet = false
			}
			current.Model = strings.TrimSpace(strings.TrimPrefix(line, "Chipset Model:"))
			anyFieldSet = true
		} else if strings.HasPrefix(line, "Total Number of Cores:") {
			current.TotalNumberOfCores = strings.TrimSpace(strings.TrimPrefix(line, "Total Number of Cores:"))
			anyFieldSet = true
		} else if strings.HasPrefix(line, "Metal:") {
			current.MetalSupport = strings.TrimSpace(strings.TrimPrefix(line, "Metal:"))
			anyFieldSet = true
		}
	}
	if anyFieldSet || (current.Model == "" && current.TotalNumberOfCores == "" && current.MetalSupport == "" && len(lines) > 0) {
		gpus = append(gpus, current)
	}
	return gpus, nil
}
