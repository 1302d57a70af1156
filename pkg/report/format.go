package report

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-snap/pkg/util"
)

// Format is the encoding of a report file, selected by its suffix.
type Format string

const (
	JSON    Format = "json"
	JSONGz  Format = "json.gz"
	JSONZst Format = "json.zst"
)

var formatToSuffix = map[Format]string{
	JSON:    ".json",
	JSONGz:  ".gz",
	JSONZst: ".zst",
}

var suffixToFormat map[string]Format

func init() {
	suffixToFormat = util.InvertMap(formatToSuffix)
}

func (f Format) String() string {
	if _, ok := formatToSuffix[f]; ok {
		return string(f)
	}
	return fmt.Sprintf("unknown_report_format(%s)", string(f))
}

// FormatFromPath picks the format from the file suffix. Anything that is not
// ".gz" or ".zst" is written as plain JSON.
func FormatFromPath(path string) Format {
	if f, ok := suffixToFormat[strings.ToLower(filepath.Ext(path))]; ok {
		return f
	}
	return JSON
}
