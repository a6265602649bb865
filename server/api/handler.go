package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/automaton-market/poolnode/x/batchstore"
	"github.com/automaton-market/poolnode/x/pool"
	"github.com/automaton-market/poolnode/x/protocol"
	"github.com/automaton-market/poolnode/x/types"
)

// PoolHandler exposes a pool instance's operations as JSON endpoints.
type PoolHandler struct {
	pool *pool.Pool
}

// RegisterPoolRoutes mounts the pool API under /v1 on the server's router.
func RegisterPoolRoutes(s *Server, p *pool.Pool) {
	h := &PoolHandler{pool: p}
	r := s.Router.PathPrefix("/v1").Subrouter()

	r.HandleFunc("/batches", h.registerBatch).Methods(http.MethodPost)
	r.HandleFunc("/batches", h.listBatches).Methods(http.MethodGet)
	r.HandleFunc("/batches/{id}", h.getBatch).Methods(http.MethodGet)
	r.HandleFunc("/batches/{id}", h.updateBatch).Methods(http.MethodPut)
	r.HandleFunc("/batches/{id}", h.unregisterBatch).Methods(http.MethodDelete)
	r.HandleFunc("/batches/{id}/items", h.pushItems).Methods(http.MethodPost)
	r.HandleFunc("/batches/{id}/items/{index}", h.setItemAt).Methods(http.MethodPut)
	r.HandleFunc("/batches/{id}/items/{index}", h.removeItemAt).Methods(http.MethodDelete)

	r.HandleFunc("/check/{id}", h.check).Methods(http.MethodPost)
	r.HandleFunc("/perform/{id}", h.perform).Methods(http.MethodPost)

	r.HandleFunc("/funds/deposit", h.deposit).Methods(http.MethodPost)
	r.HandleFunc("/funds/withdraw", h.withdraw).Methods(http.MethodPost)
	r.HandleFunc("/capacity", h.setCapacity).Methods(http.MethodPost)
	r.HandleFunc("/billing", h.billingState).Methods(http.MethodGet)
	r.HandleFunc("/billing/perform", h.performBilling).Methods(http.MethodPost)
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)

	s.Router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
}

// DTOs. Byte payloads travel hex-encoded with an optional 0x prefix;
// amounts travel as decimal strings.

type workItemDTO struct {
	CheckGasLimit  uint64 `json:"check_gas_limit"`
	ExecGasLimit   uint64 `json:"exec_gas_limit"`
	Value          string `json:"value,omitempty"`
	ConditionOp    string `json:"condition_op,omitempty"`
	ConditionLeft  string `json:"condition_left,omitempty"`
	ConditionRight string `json:"condition_right,omitempty"`
	CheckData      string `json:"check_data"`
	ExecData       string `json:"exec_data,omitempty"`
}

type batchRequest struct {
	ID    string `json:"id"`
	Check struct {
		Target            string        `json:"target"`
		TriggerSource     string        `json:"trigger_source"`
		MergePolicy       string        `json:"merge_policy"`
		ResultPolicy      string        `json:"result_policy"`
		PayloadPolicy     string        `json:"payload_policy"`
		AggregateGasLimit uint64        `json:"aggregate_gas_limit"`
		MinIntervalSec    int64         `json:"min_interval_sec"`
		TriggerSelector   string        `json:"trigger_selector"`
		Items             []workItemDTO `json:"items"`
	} `json:"check"`
	Exec struct {
		Target            string `json:"target"`
		Selector          string `json:"selector"`
		AggregateGasLimit uint64 `json:"aggregate_gas_limit"`
		Enabled           bool   `json:"enabled"`
		MaxUnitPrice      string `json:"max_unit_price,omitempty"`
		MinAggregation    uint32 `json:"min_aggregation"`
		MaxAggregation    uint32 `json:"max_aggregation"`
	} `json:"exec"`
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New("invalid decimal amount")
	}
	return v, nil
}

func parseBatchID(s string) (types.BatchID, error) {
	raw, err := decodeHex(s)
	if err != nil || len(raw) != common.HashLength {
		return types.BatchID{}, errors.New("batch id must be 32 hex bytes")
	}
	return common.BytesToHash(raw), nil
}

func parseSelector(s string) (types.Selector, error) {
	raw, err := decodeHex(s)
	if err != nil || len(raw) != 4 {
		return types.Selector{}, errors.New("selector must be 4 hex bytes")
	}
	var sel types.Selector
	copy(sel[:], raw)
	return sel, nil
}

var compareOps = map[string]types.CompareOp{
	"eq": types.CompareOpEq, "ne": types.CompareOpNe,
	"lt": types.CompareOpLt, "le": types.CompareOpLe,
	"gt": types.CompareOpGt, "ge": types.CompareOpGe,
	"between": types.CompareOpBetween,
}

var triggerSources = map[string]types.TriggerSource{
	"condition": types.TriggerSourceCondition,
	"log-event": types.TriggerSourceLogEvent,
}

var mergePolicies = map[string]types.MergePolicy{
	"none": types.MergePolicyNone, "prepend": types.MergePolicyPrepend,
	"append": types.MergePolicyAppend, "replace": types.MergePolicyReplace,
}

var resultPolicies = map[string]types.ResultPolicy{
	"assume-success": types.ResultPolicyAssumeSuccess,
	"assume-failure": types.ResultPolicyAssumeFailure,
	"decode-bool":    types.ResultPolicyDecodeBool,
	"compare":        types.ResultPolicyCompare,
}

var payloadPolicies = map[string]types.PayloadPolicy{
	"none": types.PayloadPolicyNone, "check-result": types.PayloadPolicyCheckResult,
	"exec-data": types.PayloadPolicyExecData, "trigger-data": types.PayloadPolicyTriggerData,
	"raw-check-bytes": types.PayloadPolicyRawCheckBytes, "decoded-forward": types.PayloadPolicyDecodedForward,
}

func (req *batchRequest) toSpecs() (types.BatchID, types.CheckSpec, types.ExecSpec, error) {
	var zero types.BatchID
	id, err := parseBatchID(req.ID)
	if err != nil {
		return zero, types.CheckSpec{}, types.ExecSpec{}, err
	}

	check := types.CheckSpec{
		Target:            common.HexToAddress(req.Check.Target),
		TriggerSource:     triggerSources[req.Check.TriggerSource],
		MergePolicy:       mergePolicies[req.Check.MergePolicy],
		ResultPolicy:      resultPolicies[req.Check.ResultPolicy],
		PayloadPolicy:     payloadPolicies[req.Check.PayloadPolicy],
		AggregateGasLimit: req.Check.AggregateGasLimit,
		MinInterval:       time.Duration(req.Check.MinIntervalSec) * time.Second,
	}
	if check.TriggerSelector, err = parseSelector(req.Check.TriggerSelector); err != nil {
		return zero, types.CheckSpec{}, types.ExecSpec{}, err
	}
	for _, dto := range req.Check.Items {
		item, err := dto.toItem()
		if err != nil {
			return zero, types.CheckSpec{}, types.ExecSpec{}, err
		}
		check.Items = append(check.Items, item)
	}

	exec := types.ExecSpec{
		Target:            common.HexToAddress(req.Exec.Target),
		AggregateGasLimit: req.Exec.AggregateGasLimit,
		Enabled:           req.Exec.Enabled,
		MinAggregation:    req.Exec.MinAggregation,
		MaxAggregation:    req.Exec.MaxAggregation,
	}
	if exec.Selector, err = parseSelector(req.Exec.Selector); err != nil {
		return zero, types.CheckSpec{}, types.ExecSpec{}, err
	}
	if exec.MaxUnitPrice, err = parseAmount(req.Exec.MaxUnitPrice); err != nil {
		return zero, types.CheckSpec{}, types.ExecSpec{}, err
	}
	return id, check, exec, nil
}

func (dto *workItemDTO) toItem() (types.WorkItem, error) {
	item := types.WorkItem{
		CheckGasLimit: dto.CheckGasLimit,
		ExecGasLimit:  dto.ExecGasLimit,
	}
	var err error
	if item.Value, err = parseAmount(dto.Value); err != nil {
		return item, err
	}
	if item.CheckData, err = decodeHex(dto.CheckData); err != nil {
		return item, err
	}
	if item.ExecData, err = decodeHex(dto.ExecData); err != nil {
		return item, err
	}
	if dto.ConditionOp != "" {
		cond := &types.Condition{Op: compareOps[dto.ConditionOp]}
		if cond.Left, err = parseAmount(dto.ConditionLeft); err != nil {
			return item, err
		}
		if cond.Right, err = parseAmount(dto.ConditionRight); err != nil {
			return item, err
		}
		item.Condition = cond
	}
	return item, nil
}

func (h *PoolHandler) registerBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	id, check, exec, err := req.toSpecs()
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_batch", err.Error(), nil)
		return
	}
	if _, err := h.pool.RegisterBatch(id, check, exec); err != nil {
		writeBatchError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"id": id.Hex()})
}

func (h *PoolHandler) updateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	req.ID = mux.Vars(r)["id"]
	id, check, exec, err := req.toSpecs()
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_batch", err.Error(), nil)
		return
	}
	if _, err := h.pool.UpdateBatch(id, check, exec); err != nil {
		writeBatchError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id.Hex()})
}

func (h *PoolHandler) unregisterBatch(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_id", err.Error(), nil)
		return
	}
	if _, err := h.pool.UnregisterBatch(id); err != nil {
		writeBatchError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id.Hex()})
}

func (h *PoolHandler) listBatches(w http.ResponseWriter, r *http.Request) {
	ids := h.pool.ListBatches()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Hex()
	}
	WriteJSON(w, http.StatusOK, map[string]any{"batches": out, "count": len(out)})
}

func (h *PoolHandler) getBatch(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_id", err.Error(), nil)
		return
	}
	batch, err := h.pool.GetBatch(id)
	if err != nil {
		writeBatchError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, batchResponse(batch))
}

func batchResponse(b types.Batch) map[string]any {
	items := make([]map[string]any, len(b.Check.Items))
	for i, item := range b.Check.Items {
		items[i] = map[string]any{
			"check_gas_limit": item.CheckGasLimit,
			"exec_gas_limit":  item.ExecGasLimit,
			"check_data":      hex.EncodeToString(item.CheckData),
			"exec_data":       hex.EncodeToString(item.ExecData),
			"content_hash":    item.ContentHash().Hex(),
		}
	}
	return map[string]any{
		"id": b.ID.Hex(),
		"check": map[string]any{
			"target":              b.Check.Target.Hex(),
			"trigger_source":      b.Check.TriggerSource.String(),
			"merge_policy":        b.Check.MergePolicy.String(),
			"result_policy":       b.Check.ResultPolicy.String(),
			"payload_policy":      b.Check.PayloadPolicy.String(),
			"aggregate_gas_limit": b.Check.AggregateGasLimit,
			"items":               items,
		},
		"exec": map[string]any{
			"target":              b.Exec.Target.Hex(),
			"selector":            hex.EncodeToString(b.Exec.Selector.Bytes()),
			"aggregate_gas_limit": b.Exec.AggregateGasLimit,
			"enabled":             b.Exec.Enabled,
			"min_aggregation":     b.Exec.MinAggregation,
			"max_aggregation":     b.Exec.MaxAggregation,
		},
	}
}

type itemEditRequest struct {
	Item         *workItemDTO `json:"item,omitempty"`
	Guard        bool         `json:"guard"`
	ExpectedHash string       `json:"expected_hash,omitempty"`
}

func (h *PoolHandler) pushItems(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_id", err.Error(), nil)
		return
	}
	var dtos []workItemDTO
	if err := json.NewDecoder(r.Body).Decode(&dtos); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	items := make([]types.WorkItem, 0, len(dtos))
	for _, dto := range dtos {
		item, err := dto.toItem()
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, "invalid_item", err.Error(), nil)
			return
		}
		items = append(items, item)
	}
	if _, err := h.pool.PushItems(id, items...); err != nil {
		writeBatchError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id.Hex()})
}

func (h *PoolHandler) setItemAt(w http.ResponseWriter, r *http.Request) {
	id, index, req, err := parseItemEdit(r)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	if req.Item == nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_request", "item is required", nil)
		return
	}
	item, err := req.Item.toItem()
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_item", err.Error(), nil)
		return
	}
	expected, err := parseExpectedHash(req)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_hash", err.Error(), nil)
		return
	}
	if _, err := h.pool.SetItemAt(id, index, item, req.Guard, expected); err != nil {
		writeBatchError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"id": id.Hex(), "index": index, "content_hash": item.ContentHash().Hex()})
}

func (h *PoolHandler) removeItemAt(w http.ResponseWriter, r *http.Request) {
	id, index, req, err := parseItemEdit(r)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	expected, err := parseExpectedHash(req)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_hash", err.Error(), nil)
		return
	}
	if _, err := h.pool.RemoveItemAt(id, index, req.Guard, expected); err != nil {
		writeBatchError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"id": id.Hex(), "index": index})
}

func parseItemEdit(r *http.Request) (types.BatchID, int, itemEditRequest, error) {
	var req itemEditRequest
	id, err := parseBatchID(mux.Vars(r)["id"])
	if err != nil {
		return id, 0, req, err
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil || index < 0 {
		return id, 0, req, errors.New("invalid item index")
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return id, 0, req, err
		}
	}
	return id, index, req, nil
}

func parseExpectedHash(req itemEditRequest) (common.Hash, error) {
	if !req.Guard {
		return common.Hash{}, nil
	}
	raw, err := decodeHex(req.ExpectedHash)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, errors.New("expected_hash must be 32 hex bytes")
	}
	return common.BytesToHash(raw), nil
}

type checkRequest struct {
	Offchain map[string]string `json:"offchain,omitempty"`
}

func (h *PoolHandler) check(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_id", err.Error(), nil)
		return
	}
	var req checkRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, r, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
	}
	offchain := make(map[common.Hash][]byte, len(req.Offchain))
	for key, val := range req.Offchain {
		rawKey, err := decodeHex(key)
		if err != nil || len(rawKey) != common.HashLength {
			WriteError(w, r, http.StatusBadRequest, "invalid_offchain_key", key, nil)
			return
		}
		data, err := decodeHex(val)
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, "invalid_offchain_data", key, nil)
			return
		}
		offchain[common.BytesToHash(rawKey)] = data
	}

	out, err := h.pool.Check(r.Context(), id, offchain)
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}

	items := make([]map[string]any, len(out.Items))
	for i, rec := range out.Items {
		items[i] = map[string]any{
			"index":           rec.Index,
			"content_hash":    rec.ContentHash.Hex(),
			"needs_execution": rec.NeedsExecution,
			"call_success":    rec.CallSuccess,
			"trigger_data":    hex.EncodeToString(rec.TriggerData),
			"raw_result":      hex.EncodeToString(rec.RawResult),
			"exec_payload":    hex.EncodeToString(rec.ExecPayload),
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"count_needing": out.CountNeeding,
		"batch":         batchResponse(out.Batch),
		"items":         items,
	})
}

type performRequest struct {
	Worker string `json:"worker"`
	Items  []struct {
		AggregationCount uint32 `json:"aggregation_count"`
		ContentHash      string `json:"content_hash"`
		TriggerBytes     string `json:"trigger_bytes,omitempty"`
	} `json:"items"`
	Calls []struct {
		AllowFailure bool   `json:"allow_failure"`
		GasLimit     uint64 `json:"gas_limit"`
		Value        string `json:"value,omitempty"`
		Data         string `json:"data"`
	} `json:"calls"`
}

func (h *PoolHandler) perform(w http.ResponseWriter, r *http.Request) {
	id, err := parseBatchID(mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_id", err.Error(), nil)
		return
	}
	var req performRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}

	items := make([]protocol.PerformItem, len(req.Items))
	for i, dto := range req.Items {
		rawHash, err := decodeHex(dto.ContentHash)
		if err != nil || len(rawHash) != common.HashLength {
			WriteError(w, r, http.StatusBadRequest, "invalid_content_hash", dto.ContentHash, nil)
			return
		}
		trigger, err := decodeHex(dto.TriggerBytes)
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, "invalid_trigger_bytes", dto.TriggerBytes, nil)
			return
		}
		items[i] = protocol.PerformItem{
			AggregationCount: dto.AggregationCount,
			ContentHash:      common.BytesToHash(rawHash),
			TriggerBytes:     trigger,
		}
	}
	calls := make([]types.Call, len(req.Calls))
	for i, dto := range req.Calls {
		data, err := decodeHex(dto.Data)
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, "invalid_call_data", dto.Data, nil)
			return
		}
		value, err := parseAmount(dto.Value)
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, "invalid_call_value", dto.Value, nil)
			return
		}
		calls[i] = types.Call{AllowFailure: dto.AllowFailure, GasLimit: dto.GasLimit, Value: value, Data: data}
	}

	out, err := h.pool.Perform(r.Context(), common.HexToAddress(req.Worker), id, items, calls)
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"skipped":        out.Skipped,
		"skip_reason":    out.SkipReason.String(),
		"item_success":   out.ItemSuccess,
		"success_weight": out.SuccessWeight,
		"failure_weight": out.FailureWeight,
		"gas_used":       out.GasUsed,
		"compensation":   out.Settlement.Compensation.String(),
		"paid":           out.Settlement.Paid.String(),
		"accrued":        out.Settlement.Accrued.String(),
	})
}

type amountRequest struct {
	To     string `json:"to,omitempty"`
	Amount string `json:"amount"`
}

func (h *PoolHandler) deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil || amount == nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_amount", req.Amount, nil)
		return
	}
	if err := h.pool.DepositFunds(amount); err != nil {
		writeProtocolError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"balance": h.pool.Balance().String()})
}

func (h *PoolHandler) withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil || amount == nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_amount", req.Amount, nil)
		return
	}
	if err := h.pool.WithdrawFunds(common.HexToAddress(req.To), amount); err != nil {
		writeProtocolError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"balance": h.pool.Balance().String()})
}

type capacityRequest struct {
	Capacity uint64 `json:"capacity"`
}

func (h *PoolHandler) setCapacity(w http.ResponseWriter, r *http.Request) {
	var req capacityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	if err := h.pool.SetCapacity(req.Capacity); err != nil {
		writeProtocolError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"capacity": req.Capacity})
}

func (h *PoolHandler) billingState(w http.ResponseWriter, r *http.Request) {
	st := h.pool.GetBillingState()
	WriteJSON(w, http.StatusOK, map[string]any{
		"last_billing_time":  st.LastBillingTime,
		"next_billing_time":  st.NextBillingTime,
		"paid_capacity":      st.PaidCapacity,
		"requested_capacity": st.RequestedCapacity,
		"close_started_at":   st.CloseStartedAt,
		"fee_per_batch":      st.FeePerBatch.String(),
		"last_cycle_fee":     st.LastCycleFee.String(),
	})
}

func (h *PoolHandler) performBilling(w http.ResponseWriter, r *http.Request) {
	action, err := h.pool.PerformBillingWork()
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"action": action.String()})
}

func (h *PoolHandler) status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":         h.pool.GetPoolStatus().String(),
		"balance":        h.pool.Balance().String(),
		"active_batches": h.pool.CountBatches(),
		"total_debt":     h.pool.Ledger().TotalDebt().String(),
		"billing_due":    h.pool.CheckBillingWork(),
	})
}

func writeBatchError(w http.ResponseWriter, r *http.Request, err error) {
	var mismatch *batchstore.HashMismatchError
	switch {
	case errors.Is(err, batchstore.ErrBatchNotFound):
		WriteError(w, r, http.StatusNotFound, "batch_not_found", err.Error(), nil)
	case errors.Is(err, batchstore.ErrBatchExists):
		WriteError(w, r, http.StatusConflict, "batch_exists", err.Error(), nil)
	case errors.Is(err, batchstore.ErrCapacityExceeded):
		WriteError(w, r, http.StatusForbidden, "capacity_exceeded", err.Error(), nil)
	case errors.As(err, &mismatch):
		WriteError(w, r, http.StatusConflict, "stale_item_hash", err.Error(), map[string]string{
			"expected": mismatch.Expected.Hex(),
			"stored":   mismatch.Actual.Hex(),
		})
	default:
		WriteError(w, r, http.StatusUnprocessableEntity, "batch_rejected", err.Error(), nil)
	}
}

func writeProtocolError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, batchstore.ErrBatchNotFound):
		WriteError(w, r, http.StatusNotFound, "batch_not_found", err.Error(), nil)
	case errors.Is(err, protocol.ErrInsufficientFunds),
		errors.Is(err, pool.ErrInsufficientFunds),
		errors.Is(err, protocol.ErrPoolClosed):
		WriteError(w, r, http.StatusPaymentRequired, "pool_unfunded", err.Error(), nil)
	case errors.Is(err, pool.ErrReentrantCall):
		WriteError(w, r, http.StatusConflict, "busy", err.Error(), nil)
	default:
		WriteError(w, r, http.StatusUnprocessableEntity, "rejected", err.Error(), nil)
	}
}
