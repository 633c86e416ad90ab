package procx

import "regexp"

// ansiPattern matches CSI/OSC escape sequences commonly emitted by
// interactive CLI tools (progress bars, color codes) so that captured
// line text stays readable once persisted or re-rendered.
var ansiPattern = regexp.MustCompile("\x1b\\[[0-9;?]*[a-zA-Z]")

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
