package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// MainDescriptor is the aggregate descriptor of a repository entry
type MainDescriptor struct {
	// Fields holds every field except architecture
	Fields map[string]json.RawMessage

	// Architectures lists the canonical architectures built for the package,
	// in insertion order
	Architectures []string

	// ArchitectureReset is set when the stored architecture value was not an
	// array and had to be replaced by an empty one
	ArchitectureReset bool

	// archItems is the stored architecture array as found, non-string
	// members included, so they survive a rewrite
	archItems []json.RawMessage
}

// NewMainDescriptor creates the aggregate descriptor of a new entry from the
// first descriptor merged into it
func NewMainDescriptor(d *Descriptor, arch string) *MainDescriptor {
	m := &MainDescriptor{
		Fields:        make(map[string]json.RawMessage, len(d.Fields)),
		Architectures: []string{arch},
	}
	for key, value := range d.Fields {
		if key != FieldArchitecture {
			m.Fields[key] = value
		}
	}
	return m
}

// ParseMainDescriptor decodes a stored aggregate descriptor.
// Malformed content is reported as ErrRepositoryState.
func ParseMainDescriptor(data []byte) (*MainDescriptor, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &IngestError{Type: ErrRepositoryState, Err: fmt.Errorf("malformed main descriptor: %w", err)}
	}
	if fields == nil {
		return nil, &IngestError{Type: ErrRepositoryState, Err: fmt.Errorf("main descriptor is not a JSON object")}
	}

	m := &MainDescriptor{Fields: fields, Architectures: []string{}}

	if raw, ok := fields[FieldArchitecture]; ok {
		delete(fields, FieldArchitecture)

		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || items == nil {
			m.ArchitectureReset = true
		} else {
			m.archItems = items
			for _, item := range items {
				var a string
				if json.Unmarshal(item, &a) == nil {
					m.Architectures = append(m.Architectures, a)
				}
			}
		}
	} else {
		m.ArchitectureReset = true
	}

	return m, nil
}

// LoadMainDescriptor reads the aggregate descriptor at path
func LoadMainDescriptor(path string) (*MainDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IngestError{Type: ErrRepositoryState, Err: fmt.Errorf("cannot read main descriptor: %w", err)}
	}
	return ParseMainDescriptor(data)
}

// Version returns the recorded version, or an empty string when it is
// missing or not a string
func (m *MainDescriptor) Version() string {
	var v string
	if raw, ok := m.Fields[FieldVersion]; ok {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}

// HasArchitecture reports whether arch is recorded
func (m *MainDescriptor) HasArchitecture(arch string) bool {
	return slices.Contains(m.Architectures, arch)
}

// AddArchitecture records arch and reports whether it was absent
func (m *MainDescriptor) AddArchitecture(arch string) bool {
	if m.HasArchitecture(arch) {
		return false
	}
	m.archItems = append(m.items(), quote(arch))
	m.Architectures = append(m.Architectures, arch)
	return true
}

// items returns the architecture array to store
func (m *MainDescriptor) items() []json.RawMessage {
	if m.archItems != nil {
		return m.archItems
	}
	items := make([]json.RawMessage, 0, len(m.Architectures))
	for _, a := range m.Architectures {
		items = append(items, quote(a))
	}
	return items
}

func quote(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

// Marshal renders the descriptor as indented JSON
func (m *MainDescriptor) Marshal() ([]byte, error) {
	out := make(map[string]any, len(m.Fields)+1)
	for key, value := range m.Fields {
		out[key] = value
	}

	out[FieldArchitecture] = m.items()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(out); err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
