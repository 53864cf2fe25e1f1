package meta

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const fileHeader = "#biopipe output properties"

// Store reads and writes output metadata records in a directory,
// conventionally <workdir>/.bpipe/outputs.
type Store struct {
	Dir string
}

// NewStore creates a store rooted at the given working directory.
func NewStore(workDir string) *Store {
	return &Store{Dir: filepath.Join(workDir, ".bpipe", "outputs")}
}

// PropertyFile returns the path of the record for an output file.
func (s *Store) PropertyFile(outputFile string) string {
	return filepath.Join(s.Dir, filepath.Base(outputFile)+".properties")
}

// Scan reads every record under the metadata directory and returns them
// sorted ascending by timestamp. A missing or malformed record is fatal.
func (s *Store) Scan() ([]*OutputMeta, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata directory %s: %w", s.Dir, err)
	}

	var all []*OutputMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".properties") {
			continue
		}
		m, err := s.Read(filepath.Join(s.Dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		all = append(all, m)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp < all[j].Timestamp
	})
	return all, nil
}

// Read parses a single record file. When the underlying output file still
// exists on disk, the record's timestamp is refreshed from its mtime.
func (s *Store) Read(path string) (*OutputMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read output metadata %s: %w", path, err)
	}
	defer f.Close()

	m := &OutputMeta{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("malformed line in output metadata %s: %q", path, line)
		}
		if err := m.setField(key, value); err != nil {
			return nil, fmt.Errorf("malformed output metadata %s: %w", path, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read output metadata %s: %w", path, err)
	}

	if m.OutputFile == "" {
		return nil, fmt.Errorf("output metadata %s has no outputFile", path)
	}
	if m.OutputPath == "" {
		m.OutputPath = NormalisePath(m.OutputFile)
	}

	// The filesystem is authoritative while the file is present.
	if info, err := os.Stat(m.OutputFile); err == nil {
		m.Timestamp = info.ModTime().UnixMilli()
	}
	return m, nil
}

// Save atomically writes the record for m. Computed fields are stripped.
func (s *Store) Save(m *OutputMeta) error {
	if m.OutputFile == "" {
		return fmt.Errorf("refusing to save output metadata with empty outputFile")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create metadata directory %s: %w", s.Dir, err)
	}

	var b strings.Builder
	b.WriteString(fileHeader + "\n")
	fmt.Fprintf(&b, "outputFile=%s\n", m.OutputFile)
	fmt.Fprintf(&b, "outputPath=%s\n", NormalisePath(m.OutputFile))
	fmt.Fprintf(&b, "inputs=%s\n", strings.Join(m.Inputs, ","))
	fmt.Fprintf(&b, "command=%s\n", m.Command)
	fmt.Fprintf(&b, "fingerprint=%s\n", m.Fingerprint)
	fmt.Fprintf(&b, "timestamp=%s\n", strconv.FormatInt(m.Timestamp, 10))
	fmt.Fprintf(&b, "preserve=%s\n", strconv.FormatBool(m.Preserve))
	fmt.Fprintf(&b, "cleaned=%s\n", strconv.FormatBool(m.Cleaned))

	target := s.PropertyFile(m.OutputFile)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write output metadata %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to commit output metadata %s: %w", target, err)
	}
	return nil
}

func (m *OutputMeta) setField(key, value string) error {
	switch key {
	case "outputFile":
		m.OutputFile = value
	case "outputPath":
		m.OutputPath = value
	case "inputs":
		if value != "" {
			m.Inputs = strings.Split(value, ",")
		}
	case "command":
		m.Command = value
	case "fingerprint":
		m.Fingerprint = value
	case "timestamp":
		ts, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q", value)
		}
		m.Timestamp = ts
	case "preserve":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid preserve flag %q", value)
		}
		m.Preserve = b
	case "cleaned":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid cleaned flag %q", value)
		}
		m.Cleaned = b
	default:
		// Unknown keys are ignored on read for forwards compatibility;
		// Save does not write them back.
	}
	return nil
}
