package attribute

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pulsekit/pulsekit/internal/model"
)

// PowerState is a snapshot of battery and charging status.
type PowerState struct {
	BatteryLevel int // 0-100, -1 when unknown
	Charging     bool
	LowPowerMode bool
}

// PowerSource reads the current power state.
type PowerSource interface {
	Read() PowerState
}

// powerProvider attaches power attributes read at capture time. Reads
// hit sysfs and are cheap enough to do inline.
type powerProvider struct {
	source PowerSource
}

// NewPowerProvider creates a power attribute provider.
func NewPowerProvider(source PowerSource) Provider {
	if source == nil {
		source = &sysfsPowerSource{root: "/sys/class/power_supply"}
	}
	return &powerProvider{source: source}
}

func (p *powerProvider) Name() string { return "power" }

func (p *powerProvider) AppendAttributes(sink map[string]model.AttributeValue) {
	state := p.source.Read()
	if state.BatteryLevel >= 0 {
		putIfAbsent(sink, "battery_level", model.Int64Attr(int64(state.BatteryLevel)))
	}
	putIfAbsent(sink, "charging", model.BoolAttr(state.Charging))
	putIfAbsent(sink, "low_power_mode", model.BoolAttr(state.LowPowerMode))
}

type sysfsPowerSource struct {
	root string
}

func (s *sysfsPowerSource) Read() PowerState {
	state := PowerState{BatteryLevel: -1}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return state
	}

	for _, entry := range entries {
		base := filepath.Join(s.root, entry.Name())
		kind := readTrimmed(filepath.Join(base, "type"))
		if kind != "Battery" {
			continue
		}
		if v := readTrimmed(filepath.Join(base, "capacity")); v != "" {
			if level, err := strconv.Atoi(v); err == nil {
				state.BatteryLevel = level
			}
		}
		status := readTrimmed(filepath.Join(base, "status"))
		state.Charging = status == "Charging" || status == "Full"
		break
	}
	return state
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
