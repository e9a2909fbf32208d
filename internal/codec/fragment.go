package codec

import (
	"net/url"
	"strings"

	"gearplanner/internal/build"
)

// blankClass stands in for an unselected class in the classes parameter
const blankClass = "00"

// Fragment is a parsed address fragment
type Fragment struct {
	Build      string
	Classes    [build.MaxClasses]string
	HasClasses bool
	Legacy     bool // no build= key: early link format
}

// FormatFragment frames an encoded build and the classes as
// "#build=<encoded>&classes=<c1>-<c2>-<c3>"
func FormatFragment(encoded string, classes [build.MaxClasses]string) string {
	codes := make([]string, len(classes))
	for i, c := range classes {
		if c == "" {
			c = blankClass
		}
		codes[i] = c
	}
	return "#build=" + encoded + "&classes=" + strings.Join(codes, "-")
}

// ParseFragment reads a fragment with or without its leading '#'
func ParseFragment(raw string) Fragment {
	raw = strings.TrimPrefix(raw, "#")
	var f Fragment
	if raw == "" {
		return f
	}

	// ParseQuery keeps whatever it could parse alongside its error
	params, _ := url.ParseQuery(raw)

	if v, ok := params["build"]; ok && len(v) > 0 {
		f.Build = v[0]
	} else {
		first, _, _ := strings.Cut(raw, "&")
		if !strings.Contains(first, "=") {
			f.Build = first
			f.Legacy = true
		}
	}

	if v, ok := params["classes"]; ok && len(v) > 0 && v[0] != "" {
		f.HasClasses = true
		for i, c := range strings.SplitN(v[0], "-", build.MaxClasses) {
			if c == blankClass {
				c = ""
			}
			f.Classes[i] = c
		}
	}
	return f
}

// DecodeFragment parses raw and decodes its build string. Links with the
// build= key use Width, bare links use LegacyWidth; when the ids segment only
// fits the other width, that width wins.
func DecodeFragment(raw string) (Fragment, Decoded) {
	f := ParseFragment(raw)
	w := Width
	if f.Legacy {
		w = LegacyWidth
	}
	return f, DecodeWidth(f.Build, pickWidth(f.Build, w))
}

func pickWidth(s string, preferred int) int {
	maskSeg, idSeg, _ := split(s)
	mask, ok := decodeMask(maskSeg)
	if !ok {
		return preferred
	}
	other := Width
	if preferred == Width {
		other = LegacyWidth
	}
	if len(idSeg) == requiredLen(mask, preferred) {
		return preferred
	}
	if len(idSeg) == requiredLen(mask, other) {
		return other
	}
	return preferred
}
