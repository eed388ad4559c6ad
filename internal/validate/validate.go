// Package validate checks RPC request payloads before any program is run.
//
// Fields arrive as decoded bus values. A field holding a value of the wrong
// type is treated as absent, matching how the bus policy parser behaves.
package validate

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidArgument is wrapped by every validation failure.
var ErrInvalidArgument = errors.New("invalid argument")

// DefaultScratchDir is the only local directory upgrade images may come from.
const DefaultScratchDir = "/tmp/"

// FieldError names the offending request field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidArgument, e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidArgument }

func invalid(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

// ApplyLANArgs is a validated apply_lan request.
type ApplyLANArgs struct {
	IPAddr  string
	Netmask string
}

// ApplyLAN requires a non-empty ipaddr. The address syntax is left to the
// apply script. A missing netmask becomes the empty string.
func ApplyLAN(fields map[string]any) (ApplyLANArgs, error) {
	ip, ok := stringField(fields, "ipaddr")
	if !ok {
		return ApplyLANArgs{}, invalid("ipaddr", "required")
	}
	if ip == "" {
		return ApplyLANArgs{}, invalid("ipaddr", "empty")
	}
	mask, _ := stringField(fields, "netmask")
	return ApplyLANArgs{IPAddr: ip, Netmask: mask}, nil
}

// SysupgradeArgs is a validated sysupgrade request.
type SysupgradeArgs struct {
	Source string
	Keep   bool
}

// KeepFlag renders Keep the way the upgrade script expects it.
func (a SysupgradeArgs) KeepFlag() string {
	if a.Keep {
		return "1"
	}
	return "0"
}

// Sysupgrade requires a source accepted by AllowedSource. keep defaults to
// true.
func Sysupgrade(fields map[string]any, scratchDir string) (SysupgradeArgs, error) {
	src, ok := stringField(fields, "source")
	if !ok {
		return SysupgradeArgs{}, invalid("source", "required")
	}
	keep := true
	if v, ok := boolField(fields, "keep"); ok {
		keep = v
	}
	if !AllowedSource(src, scratchDir) {
		return SysupgradeArgs{}, invalid("source", fmt.Sprintf("%q is not an http(s) URL or a file under %s", src, normalizeDir(scratchDir)))
	}
	return SysupgradeArgs{Source: src, Keep: keep}, nil
}

// AllowedSource reports whether an upgrade source is an http:// or https://
// URL, or an absolute path inside scratchDir. Paths are cleaned first so
// they cannot climb out of the scratch directory.
func AllowedSource(source, scratchDir string) bool {
	if source == "" || strings.ContainsRune(source, 0) {
		return false
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return true
	}
	if !strings.HasPrefix(source, "/") {
		return false
	}
	dir := normalizeDir(scratchDir)
	if !strings.HasPrefix(source, dir) {
		return false
	}
	cleaned := path.Clean(source)
	return strings.HasPrefix(cleaned, dir) && len(cleaned) > len(dir)
}

func normalizeDir(dir string) string {
	if dir == "" {
		dir = DefaultScratchDir
	}
	dir = path.Clean(dir)
	if dir == "/" {
		return dir
	}
	return dir + "/"
}

func stringField(fields map[string]any, name string) (string, bool) {
	v, ok := fields[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func boolField(fields map[string]any, name string) (bool, bool) {
	v, ok := fields[name]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
