package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Bafix001/zibridge/pkg/database"
)

// DefaultUniqueKey identifies records across snapshots when a type has no mapping.
const DefaultUniqueKey = "email"

// ObjectMapping configures one object type of a project.
type ObjectMapping struct {
	UniqueID string            `json:"unique_id,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"` // source field -> stored field
}

// ProjectConfig is the per-project sync configuration.
type ProjectConfig struct {
	SourceType    string                   `json:"source_type,omitempty"`
	SourceName    string                   `json:"source_name,omitempty"`
	Mappings      map[string]ObjectMapping `json:"mappings,omitempty"`
	IgnoredFields []string                 `json:"ignored_fields,omitempty"`
}

// UniqueKey returns the field used to merge records of objectType.
func (c ProjectConfig) UniqueKey(objectType string) string {
	if m, ok := c.Mappings[objectType]; ok && m.UniqueID != "" {
		return m.UniqueID
	}
	return DefaultUniqueKey
}

// MapFields renames source fields according to the type's mapping. Unmapped
// fields pass through unchanged.
func (c ProjectConfig) MapFields(objectType string, props map[string]any) map[string]any {
	m, ok := c.Mappings[objectType]
	if !ok || len(m.Fields) == 0 {
		return props
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		if target, ok := m.Fields[k]; ok && target != "" {
			out[target] = v
			continue
		}
		out[k] = v
	}
	return out
}

// UnmapFields reverses MapFields, turning mapped names back into the source
// system's field names. When several source fields map to one name the
// lexically smallest source field wins.
func (c ProjectConfig) UnmapFields(objectType string, props map[string]any) map[string]any {
	m, ok := c.Mappings[objectType]
	if !ok || len(m.Fields) == 0 {
		return props
	}
	reverse := make(map[string]string, len(m.Fields))
	for source, target := range m.Fields {
		if target == "" {
			continue
		}
		if prev, ok := reverse[target]; !ok || source < prev {
			reverse[target] = source
		}
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		if source, ok := reverse[k]; ok {
			out[source] = v
			continue
		}
		out[k] = v
	}
	return out
}

// Project is the isolation scope for a logical dataset.
type Project struct {
	ID        uuid.UUID                     `db:"id" json:"id"`
	Name      string                        `db:"name" json:"name"`
	Config    database.JSONB[ProjectConfig] `db:"config" json:"config"`
	CreatedAt time.Time                     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time                     `db:"updated_at" json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}
