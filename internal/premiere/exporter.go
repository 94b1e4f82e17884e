// Package premiere writes cut points into an editor project file that
// Adobe Premiere Pro can import.
package premiere

import (
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"autocut-desktop/internal/domain"
)

// TicksPerSecond is the Premiere timebase.
const TicksPerSecond int64 = 254016000000

var supportedVersions = []string{"2020", "2021", "2022", "2023", "2024"}

// SupportedVersions lists the project versions Export accepts, oldest first.
func SupportedVersions() []string {
	return append([]string(nil), supportedVersions...)
}

// Request describes one export.
type Request struct {
	TargetDir    string
	MediaPath    string
	SubtitlePath string
	ClipPoints   []string
	Version      string
}

// Result describes a written project.
type Result struct {
	ProjectPath string        `json:"projectPath"`
	Clips       int           `json:"clips"`
	Duration    time.Duration `json:"duration"`
}

// Exporter writes gzip-compressed XML projects.
type Exporter struct {
	stat func(string) (os.FileInfo, error)
	now  func() time.Time
}

// NewExporter constructs an exporter backed by the real filesystem.
func NewExporter() *Exporter {
	return &Exporter{stat: os.Stat, now: time.Now}
}

// Export validates req and writes <media>.prproj into req.TargetDir.
func (e *Exporter) Export(ctx context.Context, req Request) (Result, error) {
	if !lo.Contains(supportedVersions, strings.TrimSpace(req.Version)) {
		return Result{}, fmt.Errorf("export: %w: unsupported project version %q (supported: %s)",
			domain.ErrConfiguration, req.Version, strings.Join(supportedVersions, ", "))
	}
	if strings.TrimSpace(req.TargetDir) == "" {
		return Result{}, fmt.Errorf("export: %w: target directory is required", domain.ErrConfiguration)
	}
	if _, err := e.stat(req.MediaPath); err != nil {
		return Result{}, fmt.Errorf("export: %w: cannot access media file %q: %v", domain.ErrConfiguration, req.MediaPath, err)
	}
	if req.SubtitlePath != "" {
		if _, err := e.stat(req.SubtitlePath); err != nil {
			return Result{}, fmt.Errorf("export: %w: cannot access subtitle file %q: %v", domain.ErrConfiguration, req.SubtitlePath, err)
		}
	}

	points, err := ParseClipPoints(req.ClipPoints)
	if err != nil {
		return Result{}, fmt.Errorf("export: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	project := buildProject(req, points, e.now().UTC())
	out := filepath.Join(req.TargetDir, projectName(req.MediaPath))
	if err := writeProject(out, project); err != nil {
		return Result{}, fmt.Errorf("export: write %s: %w", out, err)
	}

	return Result{
		ProjectPath: out,
		Clips:       len(points),
		Duration:    lo.SumBy(points, func(p domain.ClipPoint) time.Duration { return p.Duration() }),
	}, nil
}

var timestampPattern = regexp.MustCompile(`^(\d{1,2}):([0-5]\d):([0-5]\d)(?:[.,](\d{1,3}))?$`)

// ParseClipPoint parses "HH:MM:SS[.mmm]-HH:MM:SS[.mmm]". A comma is
// accepted as the millisecond separator so SRT timestamps can be pasted.
func ParseClipPoint(raw string) (domain.ClipPoint, error) {
	startRaw, endRaw, ok := strings.Cut(strings.TrimSpace(raw), "-")
	if !ok {
		return domain.ClipPoint{}, fmt.Errorf("%w: clip point %q must be START-END", domain.ErrConfiguration, raw)
	}
	start, err := parseTimestamp(startRaw)
	if err != nil {
		return domain.ClipPoint{}, fmt.Errorf("%w: clip point %q: %v", domain.ErrConfiguration, raw, err)
	}
	end, err := parseTimestamp(endRaw)
	if err != nil {
		return domain.ClipPoint{}, fmt.Errorf("%w: clip point %q: %v", domain.ErrConfiguration, raw, err)
	}
	if end <= start {
		return domain.ClipPoint{}, fmt.Errorf("%w: clip point %q ends before it starts", domain.ErrConfiguration, raw)
	}
	return domain.ClipPoint{Start: start, End: end}, nil
}

// ParseClipPoints parses every point, keeping input order.
func ParseClipPoints(raw []string) ([]domain.ClipPoint, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: at least one clip point is required", domain.ErrConfiguration)
	}
	points := make([]domain.ClipPoint, 0, len(raw))
	for _, r := range raw {
		p, err := ParseClipPoint(r)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

func parseTimestamp(raw string) (time.Duration, error) {
	m := timestampPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, fmt.Errorf("invalid timestamp %q", raw)
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	ms := 0
	if m[4] != "" {
		// ".5" means 500ms.
		frac := m[4] + strings.Repeat("0", 3-len(m[4]))
		ms, _ = strconv.Atoi(frac)
	}
	return time.Duration(h)*time.Hour +
		time.Duration(mins)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

// Ticks converts d to the Premiere timebase.
func Ticks(d time.Duration) int64 {
	return d.Milliseconds() * (TicksPerSecond / 1000)
}

type projectXML struct {
	XMLName   xml.Name    `xml:"PremiereData"`
	Version   string      `xml:"Version,attr"`
	CreatedAt string      `xml:"CreatedAt,attr"`
	Media     mediaXML    `xml:"Media"`
	Subtitle  *mediaXML   `xml:"Subtitle,omitempty"`
	Sequence  sequenceXML `xml:"Sequence"`
}

type mediaXML struct {
	Name string `xml:"Name"`
	Path string `xml:"ActualMediaFilePath"`
}

type sequenceXML struct {
	Name           string    `xml:"Name"`
	TicksPerSecond int64     `xml:"TicksPerSecond"`
	Duration       int64     `xml:"Duration"`
	Clips          []clipXML `xml:"TrackItems>ClipTrackItem"`
}

type clipXML struct {
	Index    int   `xml:"Index,attr"`
	InPoint  int64 `xml:"InPoint"`
	OutPoint int64 `xml:"OutPoint"`
	Start    int64 `xml:"Start"`
	End      int64 `xml:"End"`
}

func buildProject(req Request, points []domain.ClipPoint, createdAt time.Time) projectXML {
	var cursor int64
	clips := lo.Map(points, func(p domain.ClipPoint, i int) clipXML {
		length := Ticks(p.End) - Ticks(p.Start)
		c := clipXML{
			Index:    i,
			InPoint:  Ticks(p.Start),
			OutPoint: Ticks(p.End),
			Start:    cursor,
			End:      cursor + length,
		}
		cursor += length
		return c
	})

	project := projectXML{
		Version:   req.Version,
		CreatedAt: createdAt.Format(time.RFC3339),
		Media:     mediaXML{Name: filepath.Base(req.MediaPath), Path: req.MediaPath},
		Sequence: sequenceXML{
			Name:           strings.TrimSuffix(filepath.Base(req.MediaPath), filepath.Ext(req.MediaPath)) + " autocut",
			TicksPerSecond: TicksPerSecond,
			Duration:       cursor,
			Clips:          clips,
		},
	}
	if req.SubtitlePath != "" {
		project.Subtitle = &mediaXML{Name: filepath.Base(req.SubtitlePath), Path: req.SubtitlePath}
	}
	return project
}

func projectName(mediaPath string) string {
	base := filepath.Base(mediaPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".prproj"
}

// writeProject encodes into a temp file and renames it into place.
func writeProject(path string, project projectXML) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".prproj-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	encodeErr := encodeProject(tmp, project)
	closeErr := tmp.Close()
	if encodeErr != nil {
		_ = os.Remove(tmpPath)
		return encodeErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return closeErr
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func encodeProject(w io.Writer, project projectXML) error {
	zw := gzip.NewWriter(w)
	if _, err := io.WriteString(zw, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(zw)
	enc.Indent("", "  ")
	if err := enc.Encode(project); err != nil {
		return err
	}
	return zw.Close()
}

// newExporterForTests constructs an exporter with a fixed clock.
func newExporterForTests(now func() time.Time) *Exporter {
	return &Exporter{stat: os.Stat, now: now}
}
