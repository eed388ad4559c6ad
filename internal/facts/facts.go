// Package facts collects a best-effort snapshot of local system state.
package facts

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Sources are the text files facts are read from.
type Sources struct {
	LoadAvg string
	Uptime  string
	MemInfo string
}

// DefaultSources returns the procfs locations.
func DefaultSources() Sources {
	return Sources{
		LoadAvg: "/proc/loadavg",
		Uptime:  "/proc/uptime",
		MemInfo: "/proc/meminfo",
	}
}

// Platform supplies host identity.
type Platform interface {
	Hostname() (string, error)
	Uname() (Uname, error)
}

// Uname holds the kernel identifiers reported by uname(2).
type Uname struct {
	Release string
	Machine string
}

// Host is the Platform of the running machine.
type Host struct{}

func (Host) Hostname() (string, error) { return os.Hostname() }

func (Host) Uname() (Uname, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return Uname{}, err
	}
	return Uname{
		Release: unix.ByteSliceToString(uts.Release[:]),
		Machine: unix.ByteSliceToString(uts.Machine[:]),
	}, nil
}

// Memory values are in bytes. Nil members were absent from the source.
type Memory struct {
	Total     *uint64
	Free      *uint64
	Available *uint64
}

// Facts is one snapshot. Nil fields could not be collected.
type Facts struct {
	Load1, Load5, Load15 *float64
	Uptime               *float64
	Hostname             *string
	Kernel, Machine      *string
	Time                 *int64
	Memory               *Memory
}

// Collector gathers Facts. The zero value reads the running host.
type Collector struct {
	Sources  Sources
	Platform Platform
	Now      func() time.Time
}

// NewCollector returns a Collector for the running host.
func NewCollector() *Collector {
	return &Collector{Sources: DefaultSources(), Platform: Host{}, Now: time.Now}
}

// Collect never fails; each unreadable source simply leaves its fields nil.
func (c *Collector) Collect() Facts {
	src := c.Sources
	if src == (Sources{}) {
		src = DefaultSources()
	}
	platform := c.Platform
	if platform == nil {
		platform = Host{}
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}

	var f Facts
	if vals, ok := readFloats(src.LoadAvg, 3); ok {
		f.Load1, f.Load5, f.Load15 = &vals[0], &vals[1], &vals[2]
	}
	if vals, ok := readFloats(src.Uptime, 1); ok {
		f.Uptime = &vals[0]
	}
	if h, err := platform.Hostname(); err == nil {
		f.Hostname = &h
	}
	if u, err := platform.Uname(); err == nil {
		f.Kernel, f.Machine = &u.Release, &u.Machine
	}
	if ts := now().Unix(); ts > 0 {
		f.Time = &ts
	}
	if file, err := os.Open(src.MemInfo); err == nil {
		m := parseMemInfo(file)
		file.Close()
		f.Memory = &m
	}
	return f
}

// Payload renders Facts with the wire field names.
func (f Facts) Payload() map[string]any {
	out := make(map[string]any, 10)
	putFloat(out, "load1", f.Load1)
	putFloat(out, "load5", f.Load5)
	putFloat(out, "load15", f.Load15)
	putFloat(out, "uptime", f.Uptime)
	putString(out, "hostname", f.Hostname)
	putString(out, "kernel", f.Kernel)
	putString(out, "machine", f.Machine)
	if f.Time != nil {
		out["time"] = *f.Time
	}
	if f.Memory != nil {
		mem := make(map[string]any, 3)
		putUint(mem, "total", f.Memory.Total)
		putUint(mem, "free", f.Memory.Free)
		putUint(mem, "available", f.Memory.Available)
		out["memory"] = mem
	}
	return out
}

// readFloats parses the first n whitespace-separated numbers of the first
// line of path.
func readFloats(path string, n int) ([]float64, bool) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer file.Close()

	line, err := bufio.NewReader(file).ReadString('\n')
	if err != nil && line == "" {
		return nil, false
	}
	fields := strings.Fields(line)
	if len(fields) < n {
		return nil, false
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// parseMemInfo scans "Key: value unit" lines. Values are kilobytes.
// Malformed lines are skipped.
func parseMemInfo(r io.Reader) Memory {
	var m Memory
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		var dst **uint64
		switch fields[0] {
		case "MemTotal:":
			dst = &m.Total
		case "MemFree:":
			dst = &m.Free
		case "MemAvailable:":
			dst = &m.Available
		default:
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		bytes := kb * 1024
		*dst = &bytes
	}
	return m
}

func putFloat(m map[string]any, k string, v *float64) {
	if v != nil {
		m[k] = *v
	}
}

func putString(m map[string]any, k string, v *string) {
	if v != nil {
		m[k] = *v
	}
}

func putUint(m map[string]any, k string, v *uint64) {
	if v != nil {
		m[k] = *v
	}
}
