// internal/perception/pagesource.go
package perception

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/screengraph/internal/domain"
)

// boundsRegex matches the Android "[x1,y1][x2,y2]" bounds format.
var boundsRegex = regexp.MustCompile(`^\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]$`)

// rect is an element's box in device pixels.
type rect struct {
	x1, y1, x2, y2 float64
}

func (r rect) empty() bool { return r.x2 <= r.x1 || r.y2 <= r.y1 }

type rawElement struct {
	el    domain.UIElement
	box   rect
	found bool
}

// ParsePageSource flattens a UI hierarchy dump into elements in document
// order. Both the Android UiAutomator format (bounds="[x1,y1][x2,y2]") and
// the iOS XCUITest format (x, y, width, height attributes) are understood.
// Bounds are normalized against the screen size, taken from the root's
// width/height when present and the union of all boxes otherwise. Elements
// with an empty box are dropped.
func ParsePageSource(src string) ([]domain.UIElement, error) {
	if strings.TrimSpace(src) == "" {
		return nil, errors.New("empty page source")
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromString(src); err != nil {
		return nil, fmt.Errorf("parse page source: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.New("page source has no root element")
	}

	var raws []rawElement
	walk(root, 0, &raws)

	screenW, screenH := attrFloat(root, "width"), attrFloat(root, "height")
	if screenW <= 0 || screenH <= 0 {
		for _, r := range raws {
			if !r.found {
				continue
			}
			screenW = max(screenW, r.box.x2)
			screenH = max(screenH, r.box.y2)
		}
	}
	if screenW <= 0 || screenH <= 0 {
		return nil, errors.New("page source carries no element bounds")
	}

	out := make([]domain.UIElement, 0, len(raws))
	for _, r := range raws {
		if !r.found || r.box.empty() {
			continue
		}
		el := r.el
		el.Bounds = normalize(r.box, screenW, screenH)
		if el.Bounds.W <= 0 || el.Bounds.H <= 0 {
			continue
		}
		el.Order = len(out)
		out = append(out, el)
	}
	return out, nil
}

func walk(e *etree.Element, depth int, out *[]rawElement) {
	box, found := boxOf(e)
	role := roleOf(e)
	*out = append(*out, rawElement{
		el: domain.UIElement{
			ID:        firstAttr(e, "resource-id", "name"),
			Role:      role,
			Text:      textOf(e),
			Clickable: attrBool(e, "clickable", defaultClickable(role)),
			Focusable: attrBool(e, "focusable", false),
			Visible:   attrBool(e, "displayed", attrBool(e, "visible", true)),
			Enabled:   attrBool(e, "enabled", true),
			Depth:     depth,
		},
		box:   box,
		found: found,
	})
	for _, child := range e.ChildElements() {
		walk(child, depth+1, out)
	}
}

func boxOf(e *etree.Element) (rect, bool) {
	if b := e.SelectAttrValue("bounds", ""); b != "" {
		m := boundsRegex.FindStringSubmatch(b)
		if m == nil {
			return rect{}, false
		}
		v := make([]float64, 4)
		for i := range v {
			v[i], _ = strconv.ParseFloat(m[i+1], 64)
		}
		return rect{v[0], v[1], v[2], v[3]}, true
	}
	if e.SelectAttr("x") == nil || e.SelectAttr("width") == nil {
		return rect{}, false
	}
	x, y := attrFloat(e, "x"), attrFloat(e, "y")
	return rect{x, y, x + attrFloat(e, "width"), y + attrFloat(e, "height")}, true
}

// normalize maps a pixel box into the unit square, clipping to the screen.
func normalize(r rect, w, h float64) domain.Bounds {
	x1, y1 := clamp(r.x1/w), clamp(r.y1/h)
	x2, y2 := clamp(r.x2/w), clamp(r.y2/h)
	return domain.Bounds{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

func clamp(v float64) float64 { return min(max(v, 0), 1) }

var androidRoles = map[string]string{
	"button":           "button",
	"imagebutton":      "button",
	"textview":         "text",
	"edittext":         "textfield",
	"imageview":        "image",
	"checkbox":         "checkbox",
	"switch":           "switch",
	"togglebutton":     "switch",
	"radiobutton":      "radio",
	"recyclerview":     "list",
	"listview":         "list",
	"scrollview":       "scroll",
	"framelayout":      "container",
	"linearlayout":     "container",
	"relativelayout":   "container",
	"constraintlayout": "container",
	"viewgroup":        "container",
	"view":             "container",
}

// roleOf derives a platform-neutral role from the element class.
func roleOf(e *etree.Element) string {
	class := firstAttr(e, "class", "type")
	if class == "" {
		class = e.Tag
	}
	if i := strings.LastIndex(class, "."); i >= 0 {
		class = class[i+1:]
	}
	class = strings.ToLower(strings.TrimPrefix(class, "XCUIElementType"))
	if role, ok := androidRoles[class]; ok {
		return role
	}
	switch class {
	case "statictext":
		return "text"
	case "textfield", "securetextfield", "searchfield":
		return "textfield"
	case "cell":
		return "cell"
	case "link":
		return "link"
	case "node", "hierarchy", "":
		return "container"
	}
	return class
}

func defaultClickable(role string) bool {
	switch role {
	case "button", "link", "cell", "textfield", "checkbox", "switch", "radio":
		return true
	}
	return false
}

func textOf(e *etree.Element) string {
	return strings.TrimSpace(firstAttr(e, "text", "content-desc", "label", "value"))
}

func firstAttr(e *etree.Element, keys ...string) string {
	for _, k := range keys {
		if v := e.SelectAttrValue(k, ""); v != "" {
			return v
		}
	}
	return ""
}

func attrBool(e *etree.Element, key string, def bool) bool {
	v := e.SelectAttrValue(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func attrFloat(e *etree.Element, key string) float64 {
	v, err := strconv.ParseFloat(e.SelectAttrValue(key, ""), 64)
	if err != nil {
		return 0
	}
	return v
}

// ForegroundPackage returns the package of the first element that declares
// one, which UiAutomator dumps carry on every node.
func ForegroundPackage(src string) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(src); err != nil || doc.Root() == nil {
		return ""
	}
	if el := doc.FindElement("//*[@package]"); el != nil {
		return el.SelectAttrValue("package", "")
	}
	return ""
}
