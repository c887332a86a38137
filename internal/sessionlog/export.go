package sessionlog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"cogstate/internal/engine"
	"cogstate/internal/features"
	"cogstate/internal/pipeline"
)

// ExportFormat identifies the export document layout.
const ExportFormat = "session-export-v1"

const schemaURL = "https://cogstate.local/schema/session-export-v1.schema.json"

//go:embed schema/session-export-v1.schema.json
var exportSchemaJSON []byte

var exportSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(exportSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return c.Compile(schemaURL)
})

// Document is an exported session.
type Document struct {
	Format     string         `json:"format"`
	ExportedAt time.Time      `json:"exported_at"`
	Session    Session        `json:"session"`
	Records    []ExportRecord `json:"records"`
}

// ExportRecord is the JSON form of a pipeline.Record. Fields that do not
// apply to the record's kind are omitted.
type ExportRecord struct {
	Kind         pipeline.RecordKind `json:"kind"`
	TimestampMs  uint64              `json:"timestamp_ms"`
	KeyCode      *uint32             `json:"key_code,omitempty"`
	IsPress      *bool               `json:"is_press,omitempty"`
	Features     *features.Vector    `json:"features,omitempty"`
	Belief       map[string]float64  `json:"belief,omitempty"`
	Observation  *int                `json:"observation,omitempty"`
	Penalty      bool                `json:"penalty,omitempty"`
	Silence      bool                `json:"silence,omitempty"`
	Outcome      string              `json:"outcome,omitempty"`
	NativeScript bool                `json:"native_script"`
}

func exportRecord(r pipeline.Record) ExportRecord {
	out := ExportRecord{
		Kind:         r.Kind,
		TimestampMs:  r.TimestampMs,
		NativeScript: r.NativeScript,
	}
	switch r.Kind {
	case pipeline.KindKey:
		code, press := r.KeyCode, r.IsPress
		out.KeyCode = &code
		out.IsPress = &press
	case pipeline.KindFeat:
		v, obs := r.Features, r.Observation
		out.Features = &v
		out.Observation = &obs
		out.Belief = make(map[string]float64, engine.NumStates)
		for s, p := range r.Belief.Map() {
			out.Belief[s.String()] = p
		}
		out.Penalty = r.Penalty
		out.Silence = r.Silence
		out.Outcome = r.Outcome
	}
	return out
}

// Export builds the export document for a session.
func (s *Store) Export(sessionID string, now time.Time) (*Document, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}
	recs, err := s.Records(sessionID)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Format:     ExportFormat,
		ExportedAt: now.UTC(),
		Session:    sess,
		Records:    make([]ExportRecord, 0, len(recs)),
	}
	for _, r := range recs {
		doc.Records = append(doc.Records, exportRecord(r))
	}
	return doc, nil
}

// Validate checks doc against the session-export-v1 schema.
func Validate(doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}
	return ValidateJSON(data)
}

// ValidateJSON checks raw JSON against the session-export-v1 schema.
func ValidateJSON(data []byte) error {
	schema, err := exportSchema()
	if err != nil {
		return fmt.Errorf("compile export schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("decode export: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("export does not match %s: %w", ExportFormat, err)
	}
	return nil
}

// WriteExport validates doc and writes it as indented JSON.
func WriteExport(w io.Writer, doc *Document) error {
	if err := Validate(doc); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
