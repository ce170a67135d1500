// Package csvfile reads entities out of a flat CSV/TSV export. Columns are
// classified into entity types by name, every row yields at most one entity
// per type, and entities found on the same row are linked to each other.
package csvfile

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Bafix001/zibridge/pkg/connectors"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/hashing"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/tracing"
	"github.com/Bafix001/zibridge/pkg/validation"
)

// Config for a file source.
type Config struct {
	Path      string `json:"path" validate:"required"`
	Delimiter string `json:"delimiter,omitempty" validate:"omitempty,len=1"`
}

// aliases are checked in order; the first type with a matching substring wins.
var aliases = []struct {
	objectType string
	patterns   []string
}{
	{"companies", []string{"company", "entreprise", "societe", "org", "organization", "client", "account", "business", "vendor"}},
	{"contacts", []string{"contact", "utilisateur", "personne", "user", "person", "lead", "employee", "customer"}},
	{"deals", []string{"deal", "affaire", "opportunite", "sale", "transaction", "order", "contrat", "opportunity"}},
	{"tickets", []string{"ticket", "incident", "requete", "support", "task", "issue", "bug", "case"}},
	{"products", []string{"product", "produit", "article", "item", "service", "sku"}},
}

// primaryKeys pick the column that identifies an entity, most stable first.
var primaryKeys = []string{"email", "mail", "id", "name", "nom", "phone", "tel"}

type Connector struct {
	cfg    Config
	logger ectologger.Logger
}

func New(cfg Config, logger ectologger.Logger) (*Connector, error) {
	cfg, err := validation.Validate(cfg)
	if err != nil {
		return nil, err
	}
	return &Connector{cfg: cfg, logger: logger}, nil
}

func (c *Connector) SourceType() string { return connectors.SourceFile }

func (c *Connector) MaxBatchSize() int { return 0 }

func (c *Connector) TestConnection(ctx context.Context) bool {
	if _, err := c.load(ctx); err != nil {
		c.logger.WithContext(ctx).WithError(err).Errorf("File source %s is not readable", c.cfg.Path)
		return false
	}
	return true
}

// Columns maps each header to the entity type it was classified as.
func (c *Connector) Columns(ctx context.Context) (map[string]string, error) {
	t, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(t.header))
	for i, h := range t.header {
		out[h] = t.types[i]
	}
	return out, nil
}

func (c *Connector) AvailableObjectTypes(ctx context.Context) ([]string, error) {
	t, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var types []string
	for _, typ := range t.types {
		if !seen[typ] {
			seen[typ] = true
			types = append(types, typ)
		}
	}
	sort.Strings(types)
	return types, nil
}

// ExtractEntities re-reads the file on each call. Rows describing the same
// entity are merged: the first row's values win and links accumulate.
func (c *Connector) ExtractEntities(ctx context.Context, objectType string) (<-chan models.Entity, <-chan error) {
	return connectors.Stream(ctx, func(emit func(models.Entity) bool) error {
		ctx, span := tracing.StartSpan(ctx, "CSVConnector.ExtractEntities")
		defer span.End()

		t, err := c.load(ctx)
		if err != nil {
			return err
		}

		var order []string
		merged := map[string]*models.Entity{}
		for _, row := range t.rows {
			ids := t.rowIDs(row)
			id, ok := ids[objectType]
			if !ok {
				continue
			}

			e, seen := merged[id]
			if !seen {
				raw := map[string]any{"id": id}
				for i, h := range t.header {
					if t.types[i] == objectType && i < len(row) {
						raw[propertyName(h, objectType)] = row[i]
					}
				}
				entity := c.Normalize(raw, objectType)
				e = &entity
				merged[id] = e
				order = append(order, id)
			}
			for otherType, otherID := range ids {
				if otherType == objectType || isCustom(otherType) {
					continue
				}
				e.Links = append(e.Links, models.Link{ToType: otherType, ToID: otherID})
			}
		}

		for _, id := range order {
			e := merged[id]
			e.Links = models.LinksFromTokens(e.LinkTokens())
			if !emit(*e) {
				return nil
			}
		}
		c.logger.WithContext(ctx).Debugf("Extracted %d %s from %s", len(order), objectType, c.cfg.Path)
		return nil
	})
}

// Normalize turns empty and placeholder cells into nulls and everything
// else into strings.
func (c *Connector) Normalize(raw map[string]any, objectType string) models.Entity {
	e := models.Entity{Type: objectType, Properties: map[string]any{}}
	for k, v := range raw {
		switch {
		case k == "id":
			e.ID = fmt.Sprint(v)
		case k == hashing.LinksKey:
			e.Links = models.LinksFromTokens(hashing.NormalizeLinks(v))
		case strings.HasPrefix(k, "_"):
		default:
			e.Properties[k] = cell(v)
		}
	}
	return e
}

func (c *Connector) BatchUpsert(context.Context, string, []models.Entity) ([]connectors.UpsertResult, error) {
	return nil, readOnly()
}

func (c *Connector) PushUpdate(context.Context, string, string, map[string]any) connectors.PushResult {
	return connectors.PushResult{Status: connectors.PushFailed, Error: readOnly().Error()}
}

func (c *Connector) BatchCreateAssociations(context.Context, []connectors.Association) ([]connectors.AssociationResult, error) {
	return nil, readOnly()
}

func readOnly() error {
	return apperrors.NewConnectorFailure(http.StatusMethodNotAllowed, nil, "file sources are read-only")
}

type table struct {
	header []string
	types  []string
	rows   [][]string
}

func (c *Connector) load(ctx context.Context) (*table, error) {
	_, span := tracing.StartSpan(ctx, "CSVConnector.load")
	defer span.End()

	data, err := os.ReadFile(c.cfg.Path)
	if err != nil {
		return nil, apperrors.NewConnectorFailure(http.StatusNotFound, err, "failed to read %s", c.cfg.Path)
	}
	return parse(data, c.delimiter(data))
}

func (c *Connector) delimiter(data []byte) rune {
	if c.cfg.Delimiter != "" {
		return rune(c.cfg.Delimiter[0])
	}
	switch strings.ToLower(filepath.Ext(c.cfg.Path)) {
	case ".tsv", ".txt":
		return '\t'
	}
	first, _ := bufio.NewReader(bytes.NewReader(data)).ReadString('\n')
	if strings.Count(first, ";") > strings.Count(first, ",") {
		return ';'
	}
	return ','
}

func parse(data []byte, delimiter rune) (*table, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return &table{}, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalid, err, "failed to read header")
	}

	t := &table{header: make([]string, len(header)), types: make([]string, len(header))}
	for i, h := range header {
		t.header[i] = strings.TrimSpace(h)
		t.types[i] = classify(t.header[i], i)
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInvalid, err, "failed to read row")
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// rowIDs returns the id of every entity type present on a row.
func (t *table) rowIDs(row []string) map[string]string {
	cols := map[string][]int{}
	for i, typ := range t.types {
		cols[typ] = append(cols[typ], i)
	}

	ids := map[string]string{}
	for typ, idx := range cols {
		if key, ok := t.naturalKey(row, idx); ok {
			ids[typ] = stableID(typ, key)
		}
	}
	return ids
}

func (t *table) naturalKey(row []string, idx []int) (string, bool) {
	value := func(i int) string {
		if i >= len(row) || cell(row[i]) == nil {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	for _, pattern := range primaryKeys {
		for _, i := range idx {
			if strings.Contains(strings.ToLower(t.header[i]), pattern) {
				if v := value(i); v != "" {
					return v, true
				}
			}
		}
	}
	for _, i := range idx {
		if v := value(i); v != "" {
			return v, true
		}
	}
	return "", false
}

func classify(column string, index int) string {
	lower := strings.ToLower(column)
	for _, a := range aliases {
		for _, p := range a.patterns {
			if strings.Contains(lower, p) {
				return a.objectType
			}
		}
	}
	return fmt.Sprintf("custom_%d", index)
}

func isCustom(objectType string) bool {
	return strings.HasPrefix(objectType, "custom_")
}

// propertyName strips a leading "company_" style prefix from a column name.
func propertyName(column, objectType string) string {
	singular := strings.TrimSuffix(objectType, "s")
	if strings.HasSuffix(objectType, "ies") {
		singular = strings.TrimSuffix(objectType, "ies") + "y"
	}
	prefix := singular + "_"
	if strings.HasPrefix(strings.ToLower(column), prefix) && len(column) > len(prefix) {
		return column[len(prefix):]
	}
	return column
}

func stableID(objectType, key string) string {
	sum := md5.Sum([]byte(objectType + ":" + key))
	return "csv_" + hex.EncodeToString(sum[:])[:8]
}

func cell(v any) any {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	switch strings.ToLower(s) {
	case "", "nan", "none", "null":
		return nil
	}
	return s
}
