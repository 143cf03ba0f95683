package mount

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const mountinfoPath = "/proc/self/mountinfo"

// Record is a single line of /proc/<pid>/mountinfo.
type Record struct {
	ID            int
	ParentID      int
	Device        string
	Root          string
	MountPoint    string
	Options       string
	Shared        int // peer group, 0 if not shared
	Master        int
	PropagateFrom int
	Unbindable    bool
	FSType        string
	Source        string
	SuperOptions  string
}

// IsPrivate reports whether the mount has no propagation tags at all.
func (r *Record) IsPrivate() bool {
	return r.Shared == 0 && r.Master == 0 && r.PropagateFrom == 0 && !r.Unbindable
}

// ParseRecord parses one mountinfo line.
func ParseRecord(line string) (*Record, error) {
	fields := strings.Fields(line)

	// Six mandatory fields, the separator and three trailing fields
	if len(fields) < 10 {
		return nil, fmt.Errorf("too few fields in mountinfo line %q", line)
	}

	var (
		r   Record
		err error
	)
	if r.ID, err = strconv.Atoi(fields[0]); err != nil {
		return nil, fmt.Errorf("invalid mount id in %q: %w", line, err)
	}
	if r.ParentID, err = strconv.Atoi(fields[1]); err != nil {
		return nil, fmt.Errorf("invalid parent id in %q: %w", line, err)
	}
	r.Device = fields[2]
	r.Root = unescape(fields[3])
	r.MountPoint = unescape(fields[4])
	r.Options = fields[5]

	i := 6
	for ; i < len(fields) && fields[i] != "-"; i++ {
		key, value, _ := strings.Cut(fields[i], ":")
		switch key {
		case "shared":
			r.Shared, err = strconv.Atoi(value)
		case "master":
			r.Master, err = strconv.Atoi(value)
		case "propagate_from":
			r.PropagateFrom, err = strconv.Atoi(value)
		case "unbindable":
			r.Unbindable = true
		}
		if err != nil {
			return nil, fmt.Errorf("invalid optional field %q: %w", fields[i], err)
		}
	}

	// Separator must be followed by fstype, source and super options
	if len(fields)-i < 4 {
		return nil, fmt.Errorf("missing fields after separator in %q", line)
	}
	r.FSType = fields[i+1]
	r.Source = unescape(fields[i+2])
	r.SuperOptions = fields[i+3]

	return &r, nil
}

// ParseMountinfo reads all records from r.
func ParseMountinfo(r io.Reader) ([]*Record, error) {
	var records []*Record

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		rec, err := ParseRecord(line)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mountinfo: %w", err)
	}

	return records, nil
}

// Submounts returns the mount points at or below dir in the current mount
// namespace, in mountinfo order.
func Submounts(dir string) ([]string, error) {
	f, err := os.Open(mountinfoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open mountinfo: %w", err)
	}
	defer f.Close()

	records, err := ParseMountinfo(f)
	if err != nil {
		return nil, err
	}

	return submountsOf(records, dir), nil
}

func submountsOf(records []*Record, dir string) []string {
	dir = filepath.Clean(dir)

	var result []string
	for _, r := range records {
		rel, err := filepath.Rel(dir, r.MountPoint)
		if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
			continue
		}
		result = append(result, r.MountPoint)
	}

	return result
}

// unescape decodes the octal escapes (\040 for space etc.) the kernel uses
// in mountinfo paths.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}

	return b.String()
}
