// Package intake collects the uploaded images awaiting analysis and pairs
// them with context lines from an exported chat log, when one was uploaded.
package intake

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Image is one upload ready to be analyzed.
type Image struct {
	Name     string
	Path     string
	MIMEType string
	Context  string
}

var imageMIMETypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// IsImage reports whether name has a supported image extension.
func IsImage(name string) bool {
	_, ok := imageMIMETypes[strings.ToLower(filepath.Ext(name))]
	return ok
}

// MIMEType returns the media type for a supported image name, or "".
func MIMEType(name string) string {
	return imageMIMETypes[strings.ToLower(filepath.Ext(name))]
}

// CountImages returns how many supported images sit in dir. A missing dir
// counts as zero.
func CountImages(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && IsImage(e.Name()) {
			n++
		}
	}
	return n
}

// Collect lists the images in dir, skipping names already processed, and
// attaches the chat context mapped from the first .txt log found in dir.
// Results are ordered by file name.
func Collect(dir string, skip map[string]bool) ([]Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read upload dir: %w", err)
	}

	contexts, err := MapMessages(dir)
	if err != nil {
		return nil, err
	}

	var images []Image
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) || skip[e.Name()] {
			continue
		}
		images = append(images, Image{
			Name:     e.Name(),
			Path:     filepath.Join(dir, e.Name()),
			MIMEType: MIMEType(e.Name()),
			Context:  contexts[e.Name()],
		})
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })
	return images, nil
}

var (
	imageRefRe  = regexp.MustCompile(`(?i)(IMG-\d{8}-WA\d{4}\.(?:jpe?g|png))`)
	timestampRe = regexp.MustCompile(`^\d{2}/\d{2}/\d{4} \d{2}:\d{2}`)
)

// Chat-export noise lines that carry no product information. The exports are
// WhatsApp logs, so the Portuguese markers appear alongside English ones.
var noiseMarkers = []string{
	"arquivo anexado", "mensagem apagada", "<anexado:",
	"file attached", "message deleted", "<attached:",
}

// MapMessages reads the first .txt file in dir, if any, and maps each image
// file name mentioned there to the product description lines that follow it.
func MapMessages(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read upload dir: %w", err)
	}

	var logPath string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
			logPath = filepath.Join(dir, e.Name())
			break
		}
	}
	if logPath == "" {
		return map[string]string{}, nil
	}

	f, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open message log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read message log: %w", err)
	}

	return mapLines(lines), nil
}

func mapLines(lines []string) map[string]string {
	mapping := make(map[string]string)
	for i, line := range lines {
		m := imageRefRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		if ctx := contextAfter(lines, i+1); ctx != "" {
			mapping[m[1]] = ctx
		}
	}
	return mapping
}

// contextAfter gathers up to maxContextLines of product text following an
// image reference, stopping at the next message timestamp or image.
func contextAfter(lines []string, start int) string {
	const maxContextLines = 7

	var collected []string
	for i := start; i < len(lines) && i < start+maxContextLines; i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if timestampRe.MatchString(line) || imageRefRe.MatchString(line) {
			break
		}
		if isNoise(line) {
			continue
		}
		collected = append(collected, line)
	}
	return strings.Join(collected, "\n")
}

func isNoise(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range noiseMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
