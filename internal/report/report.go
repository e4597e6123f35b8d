package report

import (
	_ "embed"
	"encoding/json"
	"html/template"
	"io"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/recontk/recontk/internal/model"
)

var version string

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		version = "unknown"
	} else {
		version = info.Main.Version
	}
}

//go:embed template.html
var htmlTemplate string

var tmpl = template.Must(template.New("report").Parse(htmlTemplate))

// Document wraps an aggregate report with generation metadata.
type Document struct {
	Serial      string                `json:"serial"`
	Generator   string                `json:"generator"`
	Version     string                `json:"version"`
	GeneratedAt string                `json:"generated_at"`
	Report      model.AggregateReport `json:"report"`
}

// Builder assembles a Document from an aggregate report.
type Builder struct {
	report model.AggregateReport
}

func NewBuilder(report model.AggregateReport) *Builder {
	return &Builder{report: report}
}

// Document returns the wrapped report with a fresh serial and timestamp.
func (b *Builder) Document() Document {
	return Document{
		Serial:      "urn:uuid:" + uuid.New().String(),
		Generator:   "recontk",
		Version:     version,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Report:      b.report,
	}
}

// AsJSON encodes the document into indented JSON.
func (b *Builder) AsJSON(w io.Writer) error {
	doc := b.Document()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// AsHTML renders the document with the embedded template.
func (b *Builder) AsHTML(w io.Writer) error {
	doc := b.Document()
	return tmpl.Execute(w, doc)
}
