package attribute

import (
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/util"
)

type staticProvider struct {
	name  string
	attrs map[string]model.AttributeValue
}

func (p *staticProvider) Name() string { return p.name }

func (p *staticProvider) AppendAttributes(sink map[string]model.AttributeValue) {
	for k, v := range p.attrs {
		putIfAbsent(sink, k, v)
	}
}

type panickyProvider struct{}

func (p *panickyProvider) Name() string { return "panicky" }

func (p *panickyProvider) AppendAttributes(sink map[string]model.AttributeValue) {
	panic("provider bug")
}

func TestProcessorMergesAllProviders(t *testing.T) {
	proc := NewProcessor(zap.NewNop(),
		&staticProvider{name: "a", attrs: map[string]model.AttributeValue{
			"platform": model.StringAttr("android"),
		}},
		&staticProvider{name: "b", attrs: map[string]model.AttributeValue{
			"app_version": model.StringAttr("1.0.0"),
		}},
	)

	sink := map[string]model.AttributeValue{}
	proc.AppendAttributes(sink)

	if got := sink["platform"].StringValue(); got != "android" {
		t.Errorf("platform = %q", got)
	}
	if got := sink["app_version"].StringValue(); got != "1.0.0" {
		t.Errorf("app_version = %q", got)
	}
}

func TestExistingKeysAreNotOverwritten(t *testing.T) {
	proc := NewProcessor(zap.NewNop(),
		&staticProvider{name: "a", attrs: map[string]model.AttributeValue{
			"platform": model.StringAttr("provider-value"),
		}},
	)

	sink := map[string]model.AttributeValue{
		"platform": model.StringAttr("caller-value"),
	}
	proc.AppendAttributes(sink)

	if got := sink["platform"].StringValue(); got != "caller-value" {
		t.Errorf("platform = %q, want caller-value", got)
	}
}

func TestPanickingProviderIsSkipped(t *testing.T) {
	proc := NewProcessor(zap.NewNop(),
		&panickyProvider{},
		&staticProvider{name: "ok", attrs: map[string]model.AttributeValue{
			"survivor": model.BoolAttr(true),
		}},
	)

	sink := map[string]model.AttributeValue{}
	proc.AppendAttributes(sink)

	if v, ok := sink["survivor"]; !ok || !v.BoolValue() {
		t.Error("providers after a panicking one should still run")
	}
}

func TestComputeOnceRunsExactlyOnceUnderConcurrency(t *testing.T) {
	var computed atomic.Int32
	once := newComputeOnce(func() string {
		computed.Add(1)
		return "fingerprint"
	})

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if got := once.get(); got != "fingerprint" {
				t.Errorf("get = %q, want fingerprint", got)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := computed.Load(); got != 1 {
		t.Errorf("compute ran %d times, want exactly 1", got)
	}
}

func TestAppProvider(t *testing.T) {
	p := NewAppProvider(AppInfo{Name: "demo", Version: "2.1.0", Build: "210"})
	sink := map[string]model.AttributeValue{}
	p.AppendAttributes(sink)

	if got := sink["app_name"].StringValue(); got != "demo" {
		t.Errorf("app_name = %q", got)
	}
	if got := sink["app_build"].StringValue(); got != "210" {
		t.Errorf("app_build = %q", got)
	}
}

func TestDeviceProviderIsStable(t *testing.T) {
	p := NewDeviceProvider()

	first := map[string]model.AttributeValue{}
	p.AppendAttributes(first)
	second := map[string]model.AttributeValue{}
	p.AppendAttributes(second)

	if len(first) == 0 {
		t.Fatal("expected device attributes")
	}
	for k, v := range first {
		if second[k] != v {
			t.Errorf("attribute %q changed between captures", k)
		}
	}
}

func TestInstallationIDPersists(t *testing.T) {
	dir := t.TempDir()
	ids := util.NewSequentialIdProvider()

	first := map[string]model.AttributeValue{}
	NewInstallationProvider(dir, ids).AppendAttributes(first)

	// A new provider over the same directory reads the same id.
	second := map[string]model.AttributeValue{}
	NewInstallationProvider(dir, ids).AppendAttributes(second)

	a := first["installation_id"].StringValue()
	b := second["installation_id"].StringValue()
	if a == "" || a != b {
		t.Errorf("installation id not stable: %q vs %q", a, b)
	}
}

func TestNetworkProviderServesCachedState(t *testing.T) {
	src := &fakeNetworkSource{state: NetworkState{Type: "wifi"}}
	p := NewNetworkProvider(src, zap.NewNop())
	defer p.Stop()

	sink := map[string]model.AttributeValue{}
	p.AppendAttributes(sink)

	if got := sink["network_type"].StringValue(); got != "wifi" {
		t.Errorf("network_type = %q, want wifi", got)
	}
}

type fakeNetworkSource struct {
	state NetworkState
}

func (f *fakeNetworkSource) Read() NetworkState { return f.state }

func TestPowerProvider(t *testing.T) {
	p := NewPowerProvider(&fakePowerSource{state: PowerState{
		BatteryLevel: 80,
		Charging:     true,
	}})

	sink := map[string]model.AttributeValue{}
	p.AppendAttributes(sink)

	if got := sink["battery_level"].IntValue(); got != 80 {
		t.Errorf("battery_level = %d, want 80", got)
	}
	if !sink["charging"].BoolValue() {
		t.Error("charging = false, want true")
	}
}

type fakePowerSource struct {
	state PowerState
}

func (f *fakePowerSource) Read() PowerState { return f.state }
