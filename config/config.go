// Package config loads the ambient, YAML-described settings that shape a
// compile: device capability profiles and per-compile options. Neither
// has a spec.md analog — they are the ambient configuration layer every
// compiler needs around it, carried the way the teacher repo carries
// its own YAML-loaded settings (sigs.k8s.io/yaml).
package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// DeviceProfile describes one target device's capabilities, as loaded
// from a profile file rather than queried from a live driver — useful for
// offline compilation and for tests that need a DeviceInfo without a real
// device.
type DeviceProfile struct {
	Name              string `json:"name"`
	Index             int    `json:"index"`
	SharedMemPerBlock int64  `json:"sharedMemPerBlock"`
	MaxThreadsPerBlock int   `json:"maxThreadsPerBlock"`
}

// CompileOptions are the knobs a caller can set for one CompileFusion
// call: which device profile to target, and whether to keep the emitted
// source text around for debugging.
type CompileOptions struct {
	Device         DeviceProfile `json:"device"`
	RetainSource   bool          `json:"retainSource"`
	KernelNamePrefix string      `json:"kernelNamePrefix"`
}

// LoadDeviceProfiles reads a YAML document of the form:
//
//	devices:
//	  - name: sim0
//	    index: 0
//	    sharedMemPerBlock: 49152
//	    maxThreadsPerBlock: 1024
func LoadDeviceProfiles(path string) ([]DeviceProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading device profiles: %w", err)
	}
	var doc struct {
		Devices []DeviceProfile `json:"devices"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parsing device profiles: %w", err)
	}
	return doc.Devices, nil
}

// LoadCompileOptions reads a single CompileOptions document.
func LoadCompileOptions(path string) (CompileOptions, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return CompileOptions{}, fmt.Errorf("config: reading compile options: %w", err)
	}
	var opts CompileOptions
	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return CompileOptions{}, fmt.Errorf("config: parsing compile options: %w", err)
	}
	return opts, nil
}
