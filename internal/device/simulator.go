// internal/device/simulator.go
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/domain"
)

// Simulator is an in-process device that plays back a Fixture. It renders
// UiAutomator-style page sources so the real perception pipeline runs
// against it. It is safe for concurrent use, though one run owns one
// simulator.
type Simulator struct {
	mu  sync.Mutex
	fx  *Fixture
	log *zap.Logger

	offline    bool
	installed  bool
	running    bool
	crashed    bool
	foreground string
	screen     string
	history    []string
	focus      string
	typed      map[string]string

	calls map[string]int
	fired []int
}

var _ schemas.Device = (*Simulator)(nil)

// Option configures a Simulator.
type Option func(*Simulator)

// WithAppNotInstalled starts the simulator without the app installed.
func WithAppNotInstalled() Option { return func(s *Simulator) { s.installed = false } }

// WithOffline starts the simulator disconnected.
func WithOffline() Option { return func(s *Simulator) { s.offline = true } }

// NewSimulator creates a simulator sitting on the launcher.
func NewSimulator(fx *Fixture, logger *zap.Logger, opts ...Option) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Simulator{
		fx:         fx,
		log:        logger.Named("simulator"),
		installed:  true,
		foreground: LauncherPackage,
		screen:     fx.Start,
		typed:      make(map[string]string),
		calls:      make(map[string]int),
		fired:      make([]int, len(fx.Faults)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CurrentScreen returns the fixture name of the screen in front.
func (s *Simulator) CurrentScreen() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen
}

// begin waits out the configured latency and applies injected faults. The
// caller holds no lock.
func (s *Simulator) begin(ctx context.Context, op string) error {
	if s.fx.Latency > 0 {
		t := time.NewTimer(s.fx.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		code := domain.CodeActionTimeout
		switch op {
		case "current_app", "page_source", "screenshot":
			code = domain.CodePageSourceTimeout
		}
		return domain.NewError(code, "simulator."+op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return domain.NewError(domain.CodeDeviceOffline, "simulator."+op, errors.New("device not connected"))
	}
	s.calls[op]++
	n := s.calls[op]
	for i, ft := range s.fx.Faults {
		if ft.Op != op || n <= ft.After {
			continue
		}
		if ft.Screen != "" && ft.Screen != s.screen {
			continue
		}
		if ft.Count > 0 && s.fired[i] >= ft.Count {
			continue
		}
		s.fired[i]++
		if ft.Code == domain.CodeAppCrashed {
			s.crash()
		}
		return domain.NewError(ft.Code, "simulator."+op, errors.New("injected fault"))
	}
	return nil
}

func (s *Simulator) IsDeviceReady(ctx context.Context) (bool, error) {
	if err := s.begin(ctx, "ready"); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Simulator) InstallApp(ctx context.Context, appID string) error {
	if err := s.begin(ctx, "install"); err != nil {
		return err
	}
	if appID != s.fx.AppID {
		return domain.NewError(domain.CodeAppNotInstalled, "simulator.install", fmt.Errorf("no build available for %s", appID))
	}
	s.mu.Lock()
	s.installed = true
	s.mu.Unlock()
	return nil
}

// LaunchApp starts the app, or brings a running app to the front.
func (s *Simulator) LaunchApp(ctx context.Context, appID string) error {
	if err := s.begin(ctx, "launch"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInstalled("launch", appID); err != nil {
		return err
	}
	if !s.running {
		s.start()
	}
	s.foreground = s.fx.AppID
	return nil
}

func (s *Simulator) RestartApp(ctx context.Context, appID string) error {
	if err := s.begin(ctx, "restart"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInstalled("restart", appID); err != nil {
		return err
	}
	s.start()
	return nil
}

func (s *Simulator) checkInstalled(op, appID string) error {
	if appID != s.fx.AppID || !s.installed {
		return domain.NewError(domain.CodeAppNotInstalled, "simulator."+op, fmt.Errorf("%s is not installed", appID))
	}
	return nil
}

func (s *Simulator) start() {
	s.running = true
	s.crashed = false
	s.foreground = s.fx.AppID
	s.screen = s.fx.Start
	s.history = nil
	s.focus = ""
	clear(s.typed)
}

func (s *Simulator) crash() {
	s.running = false
	s.crashed = true
	s.foreground = LauncherPackage
	s.log.Debug("Simulated app crashed.", zap.String("screen", s.screen))
}

func (s *Simulator) GetCurrentApp(ctx context.Context) (string, error) {
	if err := s.begin(ctx, "current_app"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.foreground, nil
}

func (s *Simulator) GetPageSource(ctx context.Context) (string, error) {
	if err := s.begin(ctx, "page_source"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.crashed {
		return "", domain.NewError(domain.CodeAppCrashed, "simulator.page_source", errors.New("app process died"))
	}
	return s.render()
}

// GetScreenshot returns a small PNG whose color is derived from the page
// source, so identical screens produce identical images.
func (s *Simulator) GetScreenshot(ctx context.Context) ([]byte, error) {
	if err := s.begin(ctx, "screenshot"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.crashed {
		s.mu.Unlock()
		return nil, domain.NewError(domain.CodeAppCrashed, "simulator.screenshot", errors.New("app process died"))
	}
	src, err := s.render()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(src))
	sum := h.Sum32()
	img := image.NewRGBA(image.Rect(0, 0, 8, 16))
	fill := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 255}
	for y := 0; y < 16; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, domain.NewError(domain.CodeOCRFailed, "simulator.screenshot", err)
	}
	return buf.Bytes(), nil
}

func (s *Simulator) Tap(ctx context.Context, x, y float64) error {
	return s.press(ctx, "tap", x, y, func(el Element) string { return el.Tap })
}

func (s *Simulator) LongPress(ctx context.Context, x, y float64, _ time.Duration) error {
	return s.press(ctx, "long_press", x, y, func(el Element) string { return el.LongPress })
}

func (s *Simulator) press(ctx context.Context, op string, x, y float64, target func(Element) string) error {
	if err := s.begin(ctx, op); err != nil {
		return err
	}
	if !inUnit(x) || !inUnit(y) {
		return domain.NewError(domain.CodeActionFailed, "simulator."+op, fmt.Errorf("point (%v,%v) outside the screen", x, y))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.crashed {
		return domain.NewError(domain.CodeAppCrashed, "simulator."+op, errors.New("app process died"))
	}
	switch s.foreground {
	case s.fx.AppID:
	case LauncherPackage:
		if launcherIcon.contains(x, y) {
			if !s.running {
				s.start()
			}
			s.foreground = s.fx.AppID
		}
		return nil
	default:
		return nil
	}

	idx, el, ok := s.hit(x, y)
	if !ok {
		return nil
	}
	if el.Focusable || roleIsInput(el.Class) {
		s.focus = elementKey(idx, el)
	}
	s.follow(target(el))
	return nil
}

// hit returns the topmost enabled interactive element under the point.
func (s *Simulator) hit(x, y float64) (int, Element, bool) {
	els := s.fx.Screens[s.screen].Elements
	for i := len(els) - 1; i >= 0; i-- {
		el := els[i]
		if el.Disabled || !(el.Clickable || el.Focusable) {
			continue
		}
		if rect(el.Bounds).contains(x, y) {
			return i, el, true
		}
	}
	return 0, Element{}, false
}

func (s *Simulator) Swipe(ctx context.Context, fromX, fromY, toX, toY float64) error {
	if err := s.begin(ctx, "swipe"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.crashed {
		return domain.NewError(domain.CodeAppCrashed, "simulator.swipe", errors.New("app process died"))
	}
	if s.foreground != s.fx.AppID {
		return nil
	}
	dir := direction(fromX, fromY, toX, toY)
	s.follow(s.fx.Screens[s.screen].Swipe[dir])
	return nil
}

func direction(fromX, fromY, toX, toY float64) domain.SwipeDirection {
	dx, dy := toX-fromX, toY-fromY
	if math.Abs(dx) > math.Abs(dy) {
		if dx < 0 {
			return domain.SwipeLeft
		}
		return domain.SwipeRight
	}
	if dy < 0 {
		return domain.SwipeUp
	}
	return domain.SwipeDown
}

func (s *Simulator) TypeText(ctx context.Context, text string) error {
	if err := s.begin(ctx, "type"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.crashed {
		return domain.NewError(domain.CodeAppCrashed, "simulator.type", errors.New("app process died"))
	}
	if s.focus == "" || s.foreground != s.fx.AppID {
		return domain.NewError(domain.CodeElementNotFound, "simulator.type", errors.New("no focused input"))
	}
	s.typed[s.screen+"/"+s.focus] = text
	return nil
}

func (s *Simulator) PressBack(ctx context.Context) error {
	if err := s.begin(ctx, "back"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.crashed, s.foreground == LauncherPackage:
		return nil
	case s.foreground != s.fx.AppID:
		s.foreground = s.fx.AppID
		return nil
	}
	s.focus = ""
	if back := s.fx.Screens[s.screen].Back; back != TargetStay {
		s.follow(back)
		s.history = nil
		return nil
	}
	if n := len(s.history); n > 0 {
		s.screen = s.history[n-1]
		s.history = s.history[:n-1]
		return nil
	}
	s.foreground = LauncherPackage
	return nil
}

func (s *Simulator) PressHome(ctx context.Context) error {
	if err := s.begin(ctx, "home"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.crashed {
		s.foreground = LauncherPackage
	}
	return nil
}

// follow applies a transition target.
func (s *Simulator) follow(target string) {
	switch {
	case target == TargetStay:
	case target == TargetCrash:
		s.crash()
	case target == TargetLauncher:
		s.foreground = LauncherPackage
	case strings.HasPrefix(target, externalPrefix):
		s.foreground = strings.TrimPrefix(target, externalPrefix)
	default:
		if target != s.screen {
			s.history = append(s.history, s.screen)
			s.screen = target
			s.focus = ""
		}
	}
}

// -- rendering --

// launcherIcon is where the app's icon sits on the simulated home screen.
var launcherIcon = rect{X: 0.05, Y: 0.1, W: 0.2, H: 0.1}

func (s *Simulator) render() (string, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	h := doc.CreateElement("hierarchy")
	h.CreateAttr("rotation", "0")

	pkg := s.foreground
	root := s.node(h, 0, "android.widget.FrameLayout", pkg, rect{W: 1, H: 1})
	switch pkg {
	case s.fx.AppID:
		for i, el := range s.fx.Screens[s.screen].Elements {
			n := s.node(root, i, el.Class, pkg, rect(el.Bounds))
			text := el.Text
			if typed, ok := s.typed[s.screen+"/"+elementKey(i, el)]; ok {
				text = typed
			}
			setAttr(n, "resource-id", el.ID)
			setAttr(n, "text", text)
			setAttr(n, "content-desc", el.Desc)
			n.CreateAttr("clickable", strconv.FormatBool(el.Clickable))
			n.CreateAttr("focusable", strconv.FormatBool(el.Focusable))
			n.CreateAttr("enabled", strconv.FormatBool(!el.Disabled))
		}
	case LauncherPackage:
		icon := s.node(root, 0, "android.widget.TextView", pkg, launcherIcon)
		icon.CreateAttr("text", s.fx.AppID)
		icon.CreateAttr("clickable", "true")
	default:
		n := s.node(root, 0, "android.widget.TextView", pkg, rect{X: 0.1, Y: 0.4, W: 0.8, H: 0.1})
		n.CreateAttr("text", "Opened in "+pkg)
	}

	doc.Indent(2)
	out, err := doc.WriteToString()
	if err != nil {
		return "", domain.NewError(domain.CodePageSourceInvalid, "simulator.render", err)
	}
	return out, nil
}

func (s *Simulator) node(parent *etree.Element, index int, class, pkg string, r rect) *etree.Element {
	n := parent.CreateElement("node")
	n.CreateAttr("index", strconv.Itoa(index))
	n.CreateAttr("class", class)
	n.CreateAttr("package", pkg)
	n.CreateAttr("displayed", "true")
	n.CreateAttr("bounds", r.pixels(s.fx.Width, s.fx.Height))
	return n
}

func setAttr(e *etree.Element, key, value string) {
	if value != "" {
		e.CreateAttr(key, value)
	}
}

type rect domain.Bounds

func (r rect) contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.W && y >= r.Y && y <= r.Y+r.H
}

func (r rect) pixels(w, h int) string {
	px := func(v float64, size int) int { return int(math.Round(v * float64(size))) }
	return fmt.Sprintf("[%d,%d][%d,%d]", px(r.X, w), px(r.Y, h), px(r.X+r.W, w), px(r.Y+r.H, h))
}

func elementKey(i int, el Element) string {
	if el.ID != "" {
		return el.ID
	}
	return "#" + strconv.Itoa(i)
}

func roleIsInput(class string) bool {
	return strings.HasSuffix(class, "EditText") || strings.HasSuffix(class, "TextField")
}

func inUnit(v float64) bool { return v >= 0 && v <= 1 }
