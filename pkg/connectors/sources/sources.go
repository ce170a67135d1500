// Package sources builds a connector from its source type.
package sources

import (
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Bafix001/zibridge/pkg/connectors"
	"github.com/Bafix001/zibridge/pkg/connectors/csvfile"
	"github.com/Bafix001/zibridge/pkg/connectors/hubspot"
	"github.com/Bafix001/zibridge/pkg/connectors/memory"
	"github.com/Bafix001/zibridge/pkg/validation"
)

// Config carries the settings of every source type. Only the fields of the
// selected type are read.
type Config struct {
	Type        string   `json:"type" validate:"required,oneof=hubspot csv file memory"`
	Token       string   `json:"-"`
	BaseURL     string   `json:"base_url,omitempty"`
	ObjectTypes []string `json:"object_types,omitempty"`
	Path        string   `json:"path,omitempty"`
	Delimiter   string   `json:"delimiter,omitempty"`
}

// New returns the connector for cfg.Type.
func New(cfg Config, logger ectologger.Logger) (connectors.Connector, error) {
	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))
	cfg, err := validation.Validate(cfg)
	if err != nil {
		return nil, err
	}

	var (
		conn connectors.Connector
		cerr error
	)
	switch cfg.Type {
	case connectors.SourceHubSpot:
		var c *hubspot.Connector
		c, cerr = hubspot.New(hubspot.Config{Token: cfg.Token, BaseURL: cfg.BaseURL, ObjectTypes: cfg.ObjectTypes}, logger)
		conn = c
	case connectors.SourceCSV, connectors.SourceFile:
		var c *csvfile.Connector
		c, cerr = csvfile.New(csvfile.Config{Path: cfg.Path, Delimiter: cfg.Delimiter}, logger)
		conn = c
	default:
		if cfg.Path == "" {
			return memory.New(), nil
		}
		var c *memory.Connector
		c, cerr = memory.Load(cfg.Path)
		conn = c
	}
	if cerr != nil {
		return nil, cerr
	}
	return conn, nil
}
