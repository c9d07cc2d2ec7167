package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/aster/pkg/middleware"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/routes/accounts"
	"github.com/Ramsey-B/aster/pkg/routes/clusters"
	"github.com/Ramsey-B/aster/pkg/routes/mergejob"
)

var validate = validator.New()

func bindJSON(t *testing.T, body any, target any) error {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/", bytes.NewBuffer(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)

	if err := c.Bind(target); err != nil {
		return err
	}
	return validate.Struct(target)
}

func TestMergeJobRequestValidation(t *testing.T) {
	primary := "6fa459ea-ee8a-4ca4-894e-db77e160355e"
	secondary := "886313e1-3b8a-4372-a1e0-e46eb9109bfc"

	tests := []struct {
		name    string
		body    map[string]any
		wantErr bool
	}{
		{
			name: "valid job",
			body: map[string]any{
				"primary_id":      primary,
				"secondary_ids":   []string{secondary},
				"idempotency_key": "ops-ticket-4821",
			},
		},
		{
			name: "missing idempotency key",
			body: map[string]any{
				"primary_id":    primary,
				"secondary_ids": []string{secondary},
			},
			wantErr: true,
		},
		{
			name: "empty secondary list",
			body: map[string]any{
				"primary_id":      primary,
				"secondary_ids":   []string{},
				"idempotency_key": "ops-ticket-4821",
			},
			wantErr: true,
		},
		{
			name: "non-uuid account id",
			body: map[string]any{
				"primary_id":      "not-a-uuid",
				"secondary_ids":   []string{secondary},
				"idempotency_key": "ops-ticket-4821",
			},
			wantErr: true,
		},
		{
			name: "valid job with decisions",
			body: map[string]any{
				"primary_id":      primary,
				"secondary_ids":   []string{secondary},
				"idempotency_key": "ops-ticket-4822",
				"decisions": []map[string]any{
					{"field": "phone", "source_account_id": secondary},
					{"field": "industry", "value": "manufacturing"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var job models.MergeJob
			err := bindJSON(t, tt.body, &job)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPreviewMergeRequestValidation(t *testing.T) {
	primary := "6fa459ea-ee8a-4ca4-894e-db77e160355e"
	secondary := "886313e1-3b8a-4372-a1e0-e46eb9109bfc"

	var req models.PreviewMergeRequest
	err := bindJSON(t, map[string]any{
		"primary_id":    primary,
		"secondary_ids": []string{secondary},
	}, &req)
	require.NoError(t, err)
	assert.Equal(t, primary, req.PrimaryID)

	err = bindJSON(t, map[string]any{
		"primary_id": primary,
	}, &models.PreviewMergeRequest{})
	assert.Error(t, err, "secondary_ids is required")
}

func TestCreateAccountRequestValidation(t *testing.T) {
	var req models.CreateAccountRequest
	err := bindJSON(t, map[string]any{
		"name":   "Acme Corporation",
		"domain": "acme.com",
		"tags":   []string{"enterprise"},
	}, &req)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corporation", req.Name)

	err = bindJSON(t, map[string]any{"domain": "acme.com"}, &models.CreateAccountRequest{})
	assert.Error(t, err, "name is required")
}

// accountView adapts memoryStore to the account route handler's store
// surface, adding the write paths the engine stack never needs
type accountView struct{ *memoryStore }

func (v accountView) Create(ctx context.Context, a *models.Account) (*models.Account, error) {
	created := *a
	created.ID = uuid.New().String()
	created.CreatedAt = time.Now().UTC()
	created.UpdatedAt = created.CreatedAt
	v.mu.Lock()
	v.accounts[created.ID] = created
	v.mu.Unlock()
	return &created, nil
}

func (v accountView) ListByOwner(ctx context.Context, ownerID string) ([]models.Account, error) {
	all, err := v.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Account, 0, len(all))
	for _, a := range all {
		if a.OwnerID != nil && *a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

// historyView adapts the in-memory ledger to the merge history handler
type historyView struct{ *memoryStore }

func (v historyView) List(ctx context.Context, limit int) ([]models.MergeResult, error) {
	v.mu.Lock()
	out := make([]models.MergeResult, 0, len(v.ledger))
	for _, r := range v.ledger {
		out = append(out, *r)
	}
	v.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// newAPIServer serves the full route surface over the in-memory stack
func newAPIServer(ts *testStack) *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())

	api := e.Group("/api/v1")
	accounts.NewHandler(accountView{ts.store}, ts.store, ts.registry).Register(api.Group("/accounts"))
	clusters.NewHandler(ts.engine).Register(api.Group("/clusters"))
	mergejob.NewHandler(ts.engine, historyView{ts.store}).Register(api.Group("/merges"))
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAPIEndToEndMergeFlow(t *testing.T) {
	ts := newTestStack(t, 0.95)
	e := newAPIServer(ts)

	rec := doJSON(t, e, http.MethodPost, "/api/v1/accounts", map[string]any{
		"name":   "Acme Corporation",
		"domain": "acme.com",
		"phone":  "+1 (555) 123-4567",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	primary := decodeJSON[models.Account](t, rec)

	rec = doJSON(t, e, http.MethodPost, "/api/v1/accounts", map[string]any{
		"name":   "Acme Corp",
		"domain": "acme.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	duplicate := decodeJSON[models.Account](t, rec)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/clusters", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	clusterList := decodeJSON[models.ClusterListResponse](t, rec)
	require.Len(t, clusterList.Items, 1)
	assert.ElementsMatch(t, []string{primary.ID, duplicate.ID}, clusterList.Items[0].AccountIDs)

	rec = doJSON(t, e, http.MethodPost, "/api/v1/merges/preview", map[string]any{
		"primary_id":    primary.ID,
		"secondary_ids": []string{duplicate.ID},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decodeJSON[models.PreviewMergeResponse](t, rec)
	assert.Equal(t, primary.ID, preview.Account.ID)
	assert.Equal(t, "+1 (555) 123-4567", preview.Account.Phone)

	// Preview must not mutate anything
	rec = doJSON(t, e, http.MethodGet, "/api/v1/accounts/"+duplicate.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	key := uuid.New().String()
	rec = doJSON(t, e, http.MethodPost, "/api/v1/merges", map[string]any{
		"primary_id":      primary.ID,
		"secondary_ids":   []string{duplicate.ID},
		"idempotency_key": key,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeJSON[models.MergeResult](t, rec)
	assert.Equal(t, primary.ID, result.PrimaryID)
	assert.Equal(t, []string{duplicate.ID}, result.MergedAccountIDs)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/accounts/"+duplicate.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/merges?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	history := decodeJSON[[]models.MergeResult](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, key, history[0].IdempotencyKey)

	// Consumed clusters disappear once recomputed
	rec = doJSON(t, e, http.MethodPost, "/api/v1/clusters/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	clusterList = decodeJSON[models.ClusterListResponse](t, rec)
	assert.Empty(t, clusterList.Items)
}

func TestAPIMergeErrorStatuses(t *testing.T) {
	ts := newTestStack(t, 0.95)
	e := newAPIServer(ts)

	secondary := ts.seedAccount(models.Account{Name: "Acme Corp", Domain: "acme.com"})

	// Primary no longer exists
	rec := doJSON(t, e, http.MethodPost, "/api/v1/merges", map[string]any{
		"primary_id":      uuid.New().String(),
		"secondary_ids":   []string{secondary.ID},
		"idempotency_key": uuid.New().String(),
	})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	// Malformed request bodies are rejected before the engine runs
	rec = doJSON(t, e, http.MethodPost, "/api/v1/merges", map[string]any{
		"primary_id":    "not-a-uuid",
		"secondary_ids": []string{secondary.ID},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestMergeResultRoundTrip(t *testing.T) {
	result := models.MergeResult{
		IdempotencyKey:       "ops-ticket-4821",
		PrimaryID:            "6fa459ea-ee8a-4ca4-894e-db77e160355e",
		MergedAccountIDs:     []string{"886313e1-3b8a-4372-a1e0-e46eb9109bfc"},
		RelationshipsMoved:   3,
		RelationshipsDeduped: 1,
		AccountsRemoved:      1,
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded models.MergeResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, result, decoded)
}
