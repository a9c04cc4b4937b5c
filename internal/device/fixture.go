// internal/device/fixture.go
package device

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/screengraph/internal/domain"
)

// Transition targets with special meaning.
const (
	// TargetStay keeps the current screen.
	TargetStay = ""
	// TargetCrash kills the app; the next call reports APP_CRASHED.
	TargetCrash = "@crash"
	// TargetLauncher leaves the app for the home screen.
	TargetLauncher = "@launcher"
	// externalPrefix moves the foreground to another package, "@app:com.other".
	externalPrefix = "@app:"
)

// LauncherPackage is reported by GetCurrentApp while the app is backgrounded.
const LauncherPackage = "com.android.launcher"

//go:embed demo.yaml
var demoFixture []byte

// Fixture describes a simulated app as a set of screens and transitions.
type Fixture struct {
	AppID   string            `yaml:"app_id"`
	Start   string            `yaml:"start"`
	Width   int               `yaml:"width"`
	Height  int               `yaml:"height"`
	Screens map[string]Screen `yaml:"screens"`
	Faults  []Fault           `yaml:"faults,omitempty"`
	// Latency delays every device call.
	Latency time.Duration `yaml:"latency,omitempty"`
}

// Screen is one simulated screen.
type Screen struct {
	Elements []Element `yaml:"elements"`
	// Back is where the back button leads; empty means the previous screen.
	Back string `yaml:"back,omitempty"`
	// Swipe maps a direction to a target screen.
	Swipe map[domain.SwipeDirection]string `yaml:"swipe,omitempty"`
}

// Element is one widget of a simulated screen.
type Element struct {
	ID        string        `yaml:"id,omitempty"`
	Class     string        `yaml:"class"`
	Text      string        `yaml:"text,omitempty"`
	Desc      string        `yaml:"desc,omitempty"`
	Bounds    domain.Bounds `yaml:"bounds"`
	Clickable bool          `yaml:"clickable,omitempty"`
	Focusable bool          `yaml:"focusable,omitempty"`
	Disabled  bool          `yaml:"disabled,omitempty"`
	// Tap and LongPress name the transition target.
	Tap       string `yaml:"tap,omitempty"`
	LongPress string `yaml:"long_press,omitempty"`
}

// Fault injects failures into device operations.
type Fault struct {
	// Op is a device method: ready, install, launch, current_app,
	// page_source, screenshot, tap, long_press, swipe, type, back, home, restart.
	Op   string           `yaml:"op"`
	Code domain.ErrorCode `yaml:"code"`
	// After skips that many calls before the fault fires.
	After int `yaml:"after,omitempty"`
	// Count is the number of failures; zero means every call.
	Count int `yaml:"count,omitempty"`
	// Screen restricts the fault to one screen.
	Screen string `yaml:"screen,omitempty"`
}

// LoadFixture reads a fixture from a YAML file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture file: %w", err)
	}
	return ParseFixture(data)
}

// DemoFixture returns the built-in sample app.
func DemoFixture() *Fixture {
	f, err := ParseFixture(demoFixture)
	if err != nil {
		panic(fmt.Sprintf("embedded demo fixture is invalid: %v", err))
	}
	return f
}

// ParseFixture decodes and validates a fixture.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture YAML: %w", err)
	}
	if f.Width <= 0 {
		f.Width = 1080
	}
	if f.Height <= 0 {
		f.Height = 2400
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks that every transition lands somewhere.
func (f *Fixture) Validate() error {
	var errs []error
	if f.AppID == "" {
		errs = append(errs, errors.New("fixture: app_id is required"))
	}
	if _, ok := f.Screens[f.Start]; !ok {
		errs = append(errs, fmt.Errorf("fixture: start screen %q is not defined", f.Start))
	}
	check := func(where, target string) {
		if !f.validTarget(target) {
			errs = append(errs, fmt.Errorf("fixture: %s points to unknown screen %q", where, target))
		}
	}
	for name, s := range f.Screens {
		check(name+".back", s.Back)
		for dir, target := range s.Swipe {
			if !dir.IsValid() {
				errs = append(errs, fmt.Errorf("fixture: %s has invalid swipe direction %q", name, dir))
			}
			check(fmt.Sprintf("%s.swipe.%s", name, dir), target)
		}
		for i, el := range s.Elements {
			where := fmt.Sprintf("%s.elements[%d]", name, i)
			if !el.Bounds.Valid() {
				errs = append(errs, fmt.Errorf("fixture: %s has bounds outside the unit square", where))
			}
			check(where+".tap", el.Tap)
			check(where+".long_press", el.LongPress)
		}
	}
	for i, ft := range f.Faults {
		if ft.Code.Kind() == domain.KindInternal {
			errs = append(errs, fmt.Errorf("fixture: faults[%d] has unknown code %q", i, ft.Code))
		}
	}
	return errors.Join(errs...)
}

func (f *Fixture) validTarget(t string) bool {
	switch {
	case t == TargetStay, t == TargetCrash, t == TargetLauncher:
		return true
	case strings.HasPrefix(t, externalPrefix):
		return len(t) > len(externalPrefix)
	}
	_, ok := f.Screens[t]
	return ok
}
