package attribute

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/util"
)

// AppInfo describes the instrumented application.
type AppInfo struct {
	Name    string
	Version string
	Build   string
}

// appProvider attaches app identity to every signal.
type appProvider struct {
	info AppInfo
}

// NewAppProvider creates a provider for app identity attributes.
func NewAppProvider(info AppInfo) Provider {
	return &appProvider{info: info}
}

func (p *appProvider) Name() string { return "app" }

func (p *appProvider) AppendAttributes(sink map[string]model.AttributeValue) {
	putIfAbsent(sink, "app_name", model.StringAttr(p.info.Name))
	putIfAbsent(sink, "app_version", model.StringAttr(p.info.Version))
	putIfAbsent(sink, "app_build", model.StringAttr(p.info.Build))
}

// deviceProvider attaches host platform attributes. The values never
// change for the life of the process, so they are computed once.
type deviceProvider struct {
	attrs *computeOnce[map[string]model.AttributeValue]
}

// NewDeviceProvider creates a provider for host platform attributes.
func NewDeviceProvider() Provider {
	return &deviceProvider{
		attrs: newComputeOnce(collectDeviceAttrs),
	}
}

func collectDeviceAttrs() map[string]model.AttributeValue {
	hostname, _ := os.Hostname()
	return map[string]model.AttributeValue{
		"platform":     model.StringAttr(runtime.GOOS),
		"device_arch":  model.StringAttr(runtime.GOARCH),
		"device_name":  model.StringAttr(hostname),
		"device_cpus":  model.Int64Attr(int64(runtime.NumCPU())),
		"os_version":   model.StringAttr(osVersion()),
		"device_model": model.StringAttr(deviceModel()),
	}
}

func (p *deviceProvider) Name() string { return "device" }

func (p *deviceProvider) AppendAttributes(sink map[string]model.AttributeValue) {
	for k, v := range p.attrs.get() {
		putIfAbsent(sink, k, v)
	}
}

// installationProvider attaches a stable per-install identifier. The id
// is generated on first use and persisted so it survives restarts.
type installationProvider struct {
	id *computeOnce[string]
}

// NewInstallationProvider creates a provider whose id lives under dir.
func NewInstallationProvider(dir string, ids util.IdProvider) Provider {
	return &installationProvider{
		id: newComputeOnce(func() string {
			return loadOrCreateInstallationID(dir, ids)
		}),
	}
}

func loadOrCreateInstallationID(dir string, ids util.IdProvider) string {
	path := filepath.Join(dir, "installation_id")
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return string(data)
	}

	id := ids.UUID()
	if err := os.MkdirAll(dir, 0755); err == nil {
		// Best effort; a write failure means a fresh id next launch.
		os.WriteFile(path, []byte(id), 0644)
	}
	return id
}

func (p *installationProvider) Name() string { return "installation" }

func (p *installationProvider) AppendAttributes(sink map[string]model.AttributeValue) {
	putIfAbsent(sink, "installation_id", model.StringAttr(p.id.get()))
}
