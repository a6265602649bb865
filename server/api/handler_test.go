package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/automaton-market/poolnode/x/aggregator"
	"github.com/automaton-market/poolnode/x/pool"
	"github.com/automaton-market/poolnode/x/registry"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	logger := zerolog.New(io.Discard)
	reg, err := registry.NewMemoryRegistry(registry.DefaultConfig(), logger)
	require.NoError(t, err)

	p, err := pool.New(pool.Config{
		Logger:   logger,
		Registry: reg,
		Env:      aggregator.NewMemoryEnv(big.NewInt(1), 0, 0),
	})
	require.NoError(t, err)

	s := NewServer(DefaultConfig(), logger)
	RegisterPoolRoutes(s, p)
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "open", got["status"])
	require.Equal(t, "0", got["balance"])
	require.Equal(t, float64(0), got["active_batches"])
}

func TestBatchLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	// Fund and buy a slot first; registration is capacity-bound.
	rec := doJSON(t, s, http.MethodPost, "/v1/funds/deposit", map[string]string{"amount": "10000000"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, s, http.MethodPost, "/v1/capacity", map[string]uint64{"capacity": 1})
	require.Equal(t, http.StatusOK, rec.Code)

	id := "0x" + fmt.Sprintf("%064x", 1)
	batch := map[string]any{
		"id": id,
		"check": map[string]any{
			"target":              "0x00000000000000000000000000000000000000aa",
			"trigger_source":      "condition",
			"merge_policy":        "none",
			"result_policy":       "decode-bool",
			"payload_policy":      "exec-data",
			"aggregate_gas_limit": 1000000,
			"trigger_selector":    "0xaabbccdd",
			"items": []map[string]any{
				{"check_gas_limit": 50000, "exec_gas_limit": 90000, "check_data": "0x01", "exec_data": "0xe1"},
			},
		},
		"exec": map[string]any{
			"target":              "0x00000000000000000000000000000000000000bb",
			"selector":            "0x11223344",
			"aggregate_gas_limit": 1000000,
			"enabled":             true,
			"min_aggregation":     1,
			"max_aggregation":     10,
		},
	}

	rec = doJSON(t, s, http.MethodPost, "/v1/batches", batch)
	require.Equal(t, http.StatusCreated, rec.Code)

	// A second slot is not paid for.
	batch["id"] = "0x" + fmt.Sprintf("%064x", 2)
	rec = doJSON(t, s, http.MethodPost, "/v1/batches", batch)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/batches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Batches []string `json:"batches"`
		Count   int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	require.Equal(t, []string{id}, list.Batches)

	rec = doJSON(t, s, http.MethodGet, "/v1/batches/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/v1/batches/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/batches/"+id, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGuardedItemEditConflict(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/v1/funds/deposit", map[string]string{"amount": "10000000"})
	doJSON(t, s, http.MethodPost, "/v1/capacity", map[string]uint64{"capacity": 1})

	id := "0x" + fmt.Sprintf("%064x", 1)
	batch := map[string]any{
		"id": id,
		"check": map[string]any{
			"target":              "0x00000000000000000000000000000000000000aa",
			"trigger_source":      "condition",
			"merge_policy":        "none",
			"result_policy":       "decode-bool",
			"payload_policy":      "exec-data",
			"aggregate_gas_limit": 1000000,
			"trigger_selector":    "0xaabbccdd",
			"items": []map[string]any{
				{"check_gas_limit": 50000, "exec_gas_limit": 90000, "check_data": "0x01"},
			},
		},
		"exec": map[string]any{
			"target":              "0x00000000000000000000000000000000000000bb",
			"selector":            "0x11223344",
			"aggregate_gas_limit": 1000000,
			"enabled":             true,
			"min_aggregation":     1,
		},
	}
	rec := doJSON(t, s, http.MethodPost, "/v1/batches", batch)
	require.Equal(t, http.StatusCreated, rec.Code)

	// A guarded remove with a wrong hash reports the stored hash back.
	edit := map[string]any{
		"guard":         true,
		"expected_hash": "0x" + fmt.Sprintf("%064x", 0xdead),
	}
	rec = doJSON(t, s, http.MethodDelete, "/v1/batches/"+id+"/items/0", edit)
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "stale_item_hash", resp.Error.Code)
	require.NotEmpty(t, resp.Error.Details["stored"])

	// Retrying with the reported hash succeeds.
	edit["expected_hash"] = resp.Error.Details["stored"]
	rec = doJSON(t, s, http.MethodDelete, "/v1/batches/"+id+"/items/0", edit)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDepositRejectsBadAmount(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/funds/deposit", map[string]string{"amount": "not-a-number"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
