package hubspot

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bafix001/zibridge/pkg/connectors"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/httpclient"
	"github.com/Bafix001/zibridge/pkg/models"
)

type fakeHubSpot struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string]map[string]any
	srv      *httptest.Server
}

func (f *fakeHubSpot) record(r *http.Request) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	var body map[string]any
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}
	if f.bodies == nil {
		f.bodies = map[string]map[string]any{}
	}
	f.bodies[r.Method+" "+r.URL.Path] = body
	return body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newFake(t *testing.T) (*fakeHubSpot, *Connector) {
	t.Helper()
	f := &fakeHubSpot{}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /crm/v3/objects/contacts", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if r.URL.Query().Get("after") == "" {
			if r.URL.Query().Get("limit") == "100" {
				assert.Equal(t, "companies", r.URL.Query().Get("associations"))
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"results": []any{map[string]any{
					"id":         "1",
					"properties": map[string]any{"email": "alice@acme.io", "hs_object_id": "1"},
					"associations": map[string]any{"companies": map[string]any{"results": []any{
						map[string]any{"id": "10", "type": "contact_to_company"},
						map[string]any{"id": "10", "type": "contact_to_company_unlabeled"},
					}}},
				}},
				"paging": map[string]any{"next": map[string]any{"link": f.srv.URL + "/crm/v3/objects/contacts?after=1&limit=100"}},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"results": []any{map[string]any{"id": "2", "properties": map[string]any{"email": "bob@acme.io"}}},
		})
	})
	mux.HandleFunc("GET /crm/v3/objects/loops", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"results": []any{},
			"paging":  map[string]any{"next": map[string]any{"link": f.srv.URL + "/crm/v3/objects/loops?after=x"}},
		})
	})
	mux.HandleFunc("PATCH /crm/v3/objects/contacts/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		switch r.PathValue("id") {
		case "1", "555":
			writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id")})
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "resource not found"})
		}
	})
	mux.HandleFunc("POST /crm/v3/objects/contacts", func(w http.ResponseWriter, r *http.Request) {
		body := f.record(r)
		props, _ := body["properties"].(map[string]any)
		if props["email"] == "taken@acme.io" {
			writeJSON(w, http.StatusConflict, map[string]any{"message": "Contact already exists. Existing ID: 555"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": "900"})
	})
	mux.HandleFunc("POST /crm/v3/objects/contacts/batch/create", func(w http.ResponseWriter, r *http.Request) {
		body := f.record(r)
		inputs, _ := body["inputs"].([]any)
		var results []any
		for i := len(inputs) - 1; i >= 0; i-- {
			in := inputs[i].(map[string]any)
			results = append(results, map[string]any{"id": "new-" + in["objectWriteTraceId"].(string), "objectWriteTraceId": in["objectWriteTraceId"]})
		}
		writeJSON(w, http.StatusCreated, map[string]any{"status": "COMPLETE", "results": results})
	})
	mux.HandleFunc("POST /crm/v4/associations/{from}/{to}/batch/associate/default", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if r.PathValue("to") == "contacts" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []any{map[string]any{"message": "invalid association"}}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "COMPLETE"})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	client := httpclient.NewClient(httpclient.Config{Name: "hubspot", Timeout: 5 * time.Second, MaxRetries: 1, BaseBackoff: time.Millisecond}, logger)
	return f, NewWithClient(Config{Token: "secret", BaseURL: f.srv.URL}, client, logger)
}

func TestExtractFollowsPaging(t *testing.T) {
	_, c := newFake(t)

	contacts, err := connectors.Collect(context.Background(), c, "contacts")
	require.NoError(t, err)
	require.Len(t, contacts, 2)

	alice := contacts[0]
	assert.Equal(t, "1", alice.ID)
	assert.Equal(t, "alice@acme.io", alice.Properties["email"])
	assert.Equal(t, []models.Link{{ToType: "companies", ToID: "10", Role: "contact_to_company"}}, alice.Links)
	assert.Equal(t, "2", contacts[1].ID)
}

func TestExtractStopsOnRepeatedPage(t *testing.T) {
	_, c := newFake(t)
	_, err := connectors.Collect(context.Background(), c, "loops")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConnectorFailure, apperrors.KindOf(err))
}

func TestPushUpdate(t *testing.T) {
	f, c := newFake(t)
	ctx := context.Background()

	t.Run("updated", func(t *testing.T) {
		res := c.PushUpdate(ctx, "contacts", "1", map[string]any{"firstname": "Alicia", "createdate": "x", "phone": nil})
		assert.Equal(t, connectors.PushResult{Status: connectors.PushUpdated, LiveID: "1"}, res)
		assert.Equal(t, map[string]any{"firstname": "Alicia", "phone": ""}, f.bodies["PATCH /crm/v3/objects/contacts/1"]["properties"])
	})

	t.Run("resurrected", func(t *testing.T) {
		res := c.PushUpdate(ctx, "contacts", "2", map[string]any{"email": "bob@acme.io"})
		assert.Equal(t, connectors.PushResurrected, res.Status)
		assert.Equal(t, "900", res.LiveID)
	})

	t.Run("merged", func(t *testing.T) {
		res := c.PushUpdate(ctx, "contacts", "3", map[string]any{"email": "taken@acme.io"})
		assert.Equal(t, connectors.PushMerged, res.Status)
		assert.Equal(t, "555", res.LiveID)
	})
}

func TestBatchUpsertPairsByTraceID(t *testing.T) {
	_, c := newFake(t)

	results, err := c.BatchUpsert(context.Background(), "contacts", []models.Entity{
		{ID: "1", Properties: map[string]any{"email": "a@x.io"}},
		{ID: "2", Properties: map[string]any{"email": "b@x.io"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []connectors.UpsertResult{
		{OldRef: "1", LiveID: "new-1"},
		{OldRef: "2", LiveID: "new-2"},
	}, results)
}

func TestBatchCreateAssociations(t *testing.T) {
	_, c := newFake(t)

	results, err := c.BatchCreateAssociations(context.Background(), []connectors.Association{
		{FromType: "deals", FromID: "7", ToType: "companies", ToID: "10"},
		{FromType: "deals", FromID: "7", ToType: "contacts", ToID: "1"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.Contains(t, results[1].Error, "invalid association")
}

func TestTestConnection(t *testing.T) {
	_, c := newFake(t)
	assert.True(t, c.TestConnection(context.Background()))

	_, err := New(Config{}, nil)
	assert.Equal(t, apperrors.KindInvalid, apperrors.KindOf(err))
}
