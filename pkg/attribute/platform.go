package attribute

import (
	"os"
	"runtime"
	"strings"
)

// osVersion returns the kernel release where the platform exposes one.
func osVersion() string {
	if data, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
		return strings.TrimSpace(string(data))
	}
	return runtime.GOOS
}

// deviceModel returns a hardware model hint where one is available.
func deviceModel() string {
	for _, path := range []string{
		"/sys/devices/virtual/dmi/id/product_name",
		"/sys/firmware/devicetree/base/model",
	} {
		if data, err := os.ReadFile(path); err == nil {
			model := strings.TrimSpace(strings.TrimRight(string(data), "\x00"))
			if model != "" {
				return model
			}
		}
	}
	return runtime.GOOS + "/" + runtime.GOARCH
}
