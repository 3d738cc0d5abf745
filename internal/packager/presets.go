package packager

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Preset is one entry of a Godot export_presets.cfg file.
type Preset struct {
	Index      int
	Name       string
	Platform   string
	ExportPath string
}

func (p Preset) String() string {
	return fmt.Sprintf("%s (%s)", p.Name, p.Platform)
}

// LoadPresets reads presets from path. A missing file yields no presets.
func LoadPresets(path string) ([]Preset, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening export presets: %w", err)
	}
	defer f.Close()
	return ParsePresets(f)
}

// ParsePresets reads [preset.N] sections. Only name, platform and
// export_path are kept; [preset.N.options] sections are skipped.
func ParsePresets(r io.Reader) ([]Preset, error) {
	var presets []Preset
	var current *Preset

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			if current != nil {
				presets = append(presets, *current)
				current = nil
			}
			section := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			idx, ok := strings.CutPrefix(section, "preset.")
			if !ok {
				continue
			}
			n, err := strconv.Atoi(idx)
			if err != nil {
				// preset.N.options and friends
				continue
			}
			current = &Preset{Index: n}
			continue
		}

		if current == nil {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch strings.TrimSpace(key) {
		case "name":
			current.Name = value
		case "platform":
			current.Platform = value
		case "export_path":
			current.ExportPath = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading export presets: %w", err)
	}
	if current != nil {
		presets = append(presets, *current)
	}
	return presets, nil
}

// FindPreset selects a preset by name (case-insensitive) or index.
func FindPreset(presets []Preset, selector string) (Preset, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return Preset{}, fmt.Errorf("no export preset selected")
	}
	for _, p := range presets {
		if strings.EqualFold(p.Name, selector) {
			return p, nil
		}
	}
	if n, err := strconv.Atoi(selector); err == nil {
		for _, p := range presets {
			if p.Index == n {
				return p, nil
			}
		}
	}
	return Preset{}, fmt.Errorf("export preset %q not found", selector)
}

// PlatformExtension returns the file extension a platform's export uses.
func PlatformExtension(platform string) string {
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case "windows desktop", "windows":
		return ".exe"
	case "macos", "mac os x":
		return ".app"
	case "web":
		return ".html"
	case "android":
		return ".apk"
	default:
		// linux, linux/x11 and anything unknown
		return ""
	}
}
