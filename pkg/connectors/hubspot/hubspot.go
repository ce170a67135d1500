// Package hubspot talks to the HubSpot CRM v3 objects API and the v4
// associations API.
package hubspot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/jmespath/go-jmespath"

	"github.com/Bafix001/zibridge/pkg/connectors"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/httpclient"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/tracing"
	"github.com/Bafix001/zibridge/pkg/validation"
)

const (
	DefaultBaseURL = "https://api.hubapi.com"
	maxBatchSize   = 100
	pageSize       = 100
)

// DefaultObjectTypes are extracted when the config names none.
var DefaultObjectTypes = []string{"companies", "contacts", "deals", "tickets"}

// associationTypes lists which associations to request with each object type.
var associationTypes = map[string]string{
	"contacts":  "companies",
	"deals":     "companies,contacts",
	"companies": "contacts",
	"tickets":   "companies,contacts",
}

// readOnlyProperties are rejected by the API on writes.
var readOnlyProperties = map[string]bool{
	"hs_object_id":     true,
	"createdate":       true,
	"lastmodifieddate": true,
}

var (
	resultsExpr     = jmespath.MustCompile("results")
	nextLinkExpr    = jmespath.MustCompile("paging.next.link")
	propertiesExpr  = jmespath.MustCompile("properties")
	assocExpr       = jmespath.MustCompile("results[].{id: id, role: type}")
	createdExpr     = jmespath.MustCompile("results[].{id: id, trace: objectWriteTraceId}")
	errorsExpr      = jmespath.MustCompile("errors[].message")
	existingIDRegex = regexp.MustCompile(`Existing ID: ?(\d+)`)
)

type Config struct {
	Token       string   `json:"-" validate:"required"`
	BaseURL     string   `json:"base_url,omitempty" validate:"omitempty,url"`
	ObjectTypes []string `json:"object_types,omitempty"`
}

type Connector struct {
	cfg    Config
	client *httpclient.Client
	logger ectologger.Logger
}

func New(cfg Config, logger ectologger.Logger) (*Connector, error) {
	cfg, err := validation.Validate(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(cfg, httpclient.NewClient(httpclient.DefaultConfig(connectors.SourceHubSpot), logger), logger), nil
}

// NewWithClient uses a caller-provided HTTP client.
func NewWithClient(cfg Config, client *httpclient.Client, logger ectologger.Logger) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if len(cfg.ObjectTypes) == 0 {
		cfg.ObjectTypes = DefaultObjectTypes
	}
	return &Connector{cfg: cfg, client: client, logger: logger}
}

func (c *Connector) SourceType() string { return connectors.SourceHubSpot }

func (c *Connector) MaxBatchSize() int { return maxBatchSize }

func (c *Connector) AvailableObjectTypes(context.Context) ([]string, error) {
	return append([]string(nil), c.cfg.ObjectTypes...), nil
}

func (c *Connector) TestConnection(ctx context.Context) bool {
	resp, err := c.call(ctx, http.MethodGet, c.objectsURL("contacts")+"?limit=1", nil)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Error("HubSpot connection test failed")
		return false
	}
	return resp.StatusCode == http.StatusOK
}

// ExtractEntities follows paging.next.link until the API stops returning
// one. A link seen twice ends the extraction with an error.
func (c *Connector) ExtractEntities(ctx context.Context, objectType string) (<-chan models.Entity, <-chan error) {
	return connectors.Stream(ctx, func(emit func(models.Entity) bool) error {
		ctx, span := tracing.StartSpan(ctx, "HubSpotConnector.ExtractEntities")
		defer span.End()

		next := c.objectsURL(objectType) + "?" + listQuery(objectType).Encode()
		seen := map[string]bool{}
		count := 0

		for next != "" {
			if seen[next] {
				return apperrors.NewConnectorFailure(http.StatusLoopDetected, nil, "pagination for %s repeated %s", objectType, next)
			}
			seen[next] = true

			resp, err := c.call(ctx, http.MethodGet, next, nil)
			if err != nil {
				return err
			}
			if !resp.OK() {
				return apperrors.NewConnectorFailure(resp.StatusCode, nil, "listing %s returned %d: %s", objectType, resp.StatusCode, resp.Body)
			}

			var page any
			if err := resp.JSON(&page); err != nil {
				return apperrors.NewConnectorFailure(resp.StatusCode, err, "listing %s returned an invalid page", objectType)
			}

			results, _ := resultsExpr.Search(page)
			items, _ := results.([]any)
			for _, item := range items {
				raw, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if !emit(c.Normalize(raw, objectType)) {
					return nil
				}
				count++
			}

			link, _ := nextLinkExpr.Search(page)
			next, _ = link.(string)
		}

		c.logger.WithContext(ctx).WithFields(map[string]any{
			"object_type": objectType,
			"count":       count,
		}).Info("Extracted HubSpot objects")
		return nil
	})
}

// Normalize unwraps the properties envelope and turns the associations block
// into links.
func (c *Connector) Normalize(raw map[string]any, objectType string) models.Entity {
	e := models.Entity{Type: objectType, Properties: map[string]any{}}
	if id, ok := raw["id"]; ok && id != nil {
		e.ID = fmt.Sprint(id)
	}

	props, _ := propertiesExpr.Search(raw)
	if m, ok := props.(map[string]any); ok {
		for k, v := range m {
			e.Properties[k] = v
		}
	}

	assocs, _ := raw["associations"].(map[string]any)
	for toType, block := range assocs {
		found, _ := assocExpr.Search(block)
		list, _ := found.([]any)
		for _, item := range list {
			m, _ := item.(map[string]any)
			if m == nil || m["id"] == nil {
				continue
			}
			role, _ := m["role"].(string)
			e.Links = append(e.Links, models.Link{ToType: toType, ToID: fmt.Sprint(m["id"]), Role: role})
		}
	}
	e.Links = dedupeLinks(e.Links)
	return e
}

// BatchUpsert creates entities in chunks. Each input carries the snapshot id
// as objectWriteTraceId so results can be paired back; when the API omits it
// results are paired by position.
func (c *Connector) BatchUpsert(ctx context.Context, objectType string, entities []models.Entity) ([]connectors.UpsertResult, error) {
	ctx, span := tracing.StartSpan(ctx, "HubSpotConnector.BatchUpsert")
	defer span.End()

	var results []connectors.UpsertResult
	for _, chunk := range connectors.Chunk(entities, maxBatchSize) {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		inputs := make([]map[string]any, 0, len(chunk))
		for _, e := range chunk {
			inputs = append(inputs, map[string]any{
				"properties":         writableProperties(e.Properties),
				"objectWriteTraceId": e.ID,
			})
		}

		resp, err := c.call(ctx, http.MethodPost, c.objectsURL(objectType)+"/batch/create", map[string]any{"inputs": inputs})
		if err != nil {
			results = append(results, failedUpserts(chunk, err.Error())...)
			continue
		}
		if !resp.OK() {
			results = append(results, failedUpserts(chunk, fmt.Sprintf("batch create returned %d: %s", resp.StatusCode, apiErrors(resp)))...)
			continue
		}

		results = append(results, pairCreated(chunk, resp)...)
	}
	return results, nil
}

// PushUpdate patches the live object. A 404 means it was deleted, so it is
// recreated (resurrected). A 409 on recreate points at an existing object the
// push is merged into.
func (c *Connector) PushUpdate(ctx context.Context, objectType, liveID string, fields map[string]any) connectors.PushResult {
	ctx, span := tracing.StartSpan(ctx, "HubSpotConnector.PushUpdate")
	defer span.End()

	body := map[string]any{"properties": writableProperties(fields)}

	resp, err := c.call(ctx, http.MethodPatch, c.objectsURL(objectType)+"/"+url.PathEscape(liveID), body)
	if err != nil {
		return connectors.PushResult{Status: connectors.PushFailed, Error: err.Error()}
	}
	if resp.OK() {
		return connectors.PushResult{Status: connectors.PushUpdated, LiveID: liveID}
	}
	if resp.StatusCode != http.StatusNotFound {
		return connectors.PushResult{Status: connectors.PushFailed, Error: fmt.Sprintf("update returned %d: %s", resp.StatusCode, apiErrors(resp))}
	}

	c.logger.WithContext(ctx).Infof("%s %s not found, recreating", objectType, liveID)
	created, err := c.call(ctx, http.MethodPost, c.objectsURL(objectType), body)
	if err != nil {
		return connectors.PushResult{Status: connectors.PushFailed, Error: err.Error()}
	}

	switch {
	case created.OK():
		var out struct {
			ID string `json:"id"`
		}
		if err := created.JSON(&out); err != nil || out.ID == "" {
			return connectors.PushResult{Status: connectors.PushFailed, Error: "recreate returned no id"}
		}
		return connectors.PushResult{Status: connectors.PushResurrected, LiveID: out.ID}

	case created.StatusCode == http.StatusConflict:
		match := existingIDRegex.FindStringSubmatch(string(created.Body))
		if match == nil {
			return connectors.PushResult{Status: connectors.PushFailed, Error: "recreate conflicted: " + apiErrors(created)}
		}
		merged, err := c.call(ctx, http.MethodPatch, c.objectsURL(objectType)+"/"+match[1], body)
		if err != nil {
			return connectors.PushResult{Status: connectors.PushFailed, Error: err.Error()}
		}
		if !merged.OK() {
			return connectors.PushResult{Status: connectors.PushFailed, Error: fmt.Sprintf("merge update returned %d", merged.StatusCode)}
		}
		return connectors.PushResult{Status: connectors.PushMerged, LiveID: match[1]}

	default:
		return connectors.PushResult{Status: connectors.PushFailed, Error: fmt.Sprintf("recreate returned %d: %s", created.StatusCode, apiErrors(created))}
	}
}

// BatchCreateAssociations uses the v4 default association per (from, to)
// type pair. A failed batch fails every link in it.
func (c *Connector) BatchCreateAssociations(ctx context.Context, links []connectors.Association) ([]connectors.AssociationResult, error) {
	ctx, span := tracing.StartSpan(ctx, "HubSpotConnector.BatchCreateAssociations")
	defer span.End()

	type pair struct{ from, to string }
	var order []pair
	groups := map[pair][]connectors.Association{}
	for _, l := range links {
		p := pair{l.FromType, l.ToType}
		if _, ok := groups[p]; !ok {
			order = append(order, p)
		}
		groups[p] = append(groups[p], l)
	}

	results := make([]connectors.AssociationResult, 0, len(links))
	for _, p := range order {
		for _, chunk := range connectors.Chunk(groups[p], maxBatchSize) {
			if err := ctx.Err(); err != nil {
				return results, err
			}

			inputs := make([]map[string]any, 0, len(chunk))
			for _, l := range chunk {
				inputs = append(inputs, map[string]any{
					"from": map[string]string{"id": l.FromID},
					"to":   map[string]string{"id": l.ToID},
				})
			}

			endpoint := fmt.Sprintf("%s/crm/v4/associations/%s/%s/batch/associate/default", c.cfg.BaseURL, url.PathEscape(p.from), url.PathEscape(p.to))
			resp, err := c.call(ctx, http.MethodPost, endpoint, map[string]any{"inputs": inputs})

			errMsg := ""
			switch {
			case err != nil:
				errMsg = err.Error()
			case !resp.OK():
				errMsg = fmt.Sprintf("associate returned %d: %s", resp.StatusCode, apiErrors(resp))
			}
			for _, l := range chunk {
				results = append(results, connectors.AssociationResult{Association: l, OK: errMsg == "", Error: errMsg})
			}
		}
	}
	return results, nil
}

func (c *Connector) call(ctx context.Context, method, endpoint string, body any) (*httpclient.Response, error) {
	return c.client.Do(ctx, httpclient.Request{
		Method:  method,
		URL:     endpoint,
		Headers: map[string]string{"Authorization": "Bearer " + c.cfg.Token},
		Body:    body,
	})
}

func (c *Connector) objectsURL(objectType string) string {
	return c.cfg.BaseURL + "/crm/v3/objects/" + url.PathEscape(objectType)
}

func listQuery(objectType string) url.Values {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(pageSize))
	if assoc, ok := associationTypes[objectType]; ok {
		q.Set("associations", assoc)
	}
	return q
}

// writableProperties drops read-only fields and sends nulls as empty strings.
func writableProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if readOnlyProperties[k] || strings.HasPrefix(k, "_") {
			continue
		}
		if v == nil {
			v = ""
		}
		out[k] = v
	}
	return out
}

func pairCreated(chunk []models.Entity, resp *httpclient.Response) []connectors.UpsertResult {
	var body any
	if err := resp.JSON(&body); err != nil {
		return failedUpserts(chunk, err.Error())
	}
	found, _ := createdExpr.Search(body)
	created, _ := found.([]any)

	byTrace := map[string]string{}
	var positional []string
	for _, item := range created {
		m, _ := item.(map[string]any)
		if m == nil || m["id"] == nil {
			continue
		}
		id := fmt.Sprint(m["id"])
		if trace, ok := m["trace"].(string); ok && trace != "" {
			byTrace[trace] = id
			continue
		}
		positional = append(positional, id)
	}

	results := make([]connectors.UpsertResult, 0, len(chunk))
	for i, e := range chunk {
		switch {
		case byTrace[e.ID] != "":
			results = append(results, connectors.UpsertResult{OldRef: e.ID, LiveID: byTrace[e.ID]})
		case len(byTrace) == 0 && i < len(positional):
			results = append(results, connectors.UpsertResult{OldRef: e.ID, LiveID: positional[i]})
		default:
			results = append(results, connectors.UpsertResult{OldRef: e.ID, Error: "not created: " + apiErrors(resp)})
		}
	}
	return results
}

func failedUpserts(chunk []models.Entity, msg string) []connectors.UpsertResult {
	out := make([]connectors.UpsertResult, 0, len(chunk))
	for _, e := range chunk {
		out = append(out, connectors.UpsertResult{OldRef: e.ID, Error: msg})
	}
	return out
}

func apiErrors(resp *httpclient.Response) string {
	var body any
	if err := resp.JSON(&body); err == nil {
		if msgs, _ := errorsExpr.Search(body); msgs != nil {
			if list, ok := msgs.([]any); ok && len(list) > 0 {
				parts := make([]string, 0, len(list))
				for _, m := range list {
					parts = append(parts, fmt.Sprint(m))
				}
				return strings.Join(parts, "; ")
			}
		}
		if m, ok := body.(map[string]any); ok && m["message"] != nil {
			return fmt.Sprint(m["message"])
		}
	}
	if len(resp.Body) > 200 {
		return string(resp.Body[:200])
	}
	return string(resp.Body)
}

// dedupeLinks keeps the first link per target, sorted by token.
func dedupeLinks(links []models.Link) []models.Link {
	seen := map[string]bool{}
	out := links[:0]
	for _, l := range links {
		if seen[l.Token()] {
			continue
		}
		seen[l.Token()] = true
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token() < out[j].Token() })
	return out
}
