package graphql

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
)

// Context keys for resolver injection (avoids circular imports).
type contextKey string

const CtxKeyBranchID contextKey = "branchID"

// Branch context for the current request.
// Resolved from: X-Branch-ID header > __Branch query param > JSON variables.__Branch
const (
	HeaderBranch     = "X-Branch-ID"
	QueryParamBranch = "__Branch"
	VarBranch        = "__Branch"
)

// BranchIDFromContext returns the branch ID for the current request.
// Zero means no branch context (internal caller, full access).
func BranchIDFromContext(ctx context.Context) uint {
	if v := ctx.Value(CtxKeyBranchID); v != nil {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}

// WithBranchID attaches branchID to context.
func WithBranchID(ctx context.Context, branchID uint) context.Context {
	return context.WithValue(ctx, CtxKeyBranchID, branchID)
}

// GetBranchID extracts the branch ID from a request.
// Priority: 1) X-Branch-ID header, 2) __Branch query param
func GetBranchID(r *http.Request) uint {
	if h := r.Header.Get(HeaderBranch); h != "" {
		if id, err := strconv.ParseUint(h, 10, 32); err == nil {
			return uint(id)
		}
	}
	if q := r.URL.Query().Get(QueryParamBranch); q != "" {
		if id, err := strconv.ParseUint(q, 10, 32); err == nil {
			return uint(id)
		}
	}
	return 0
}

// ParseBranchFromVariables parses variables from a JSON body for __Branch.
func ParseBranchFromVariables(body []byte) (uint, bool) {
	var payload struct {
		Variables map[string]interface{} `json:"variables"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Variables == nil {
		return 0, false
	}
	if v, ok := payload.Variables[VarBranch]; ok {
		switch val := v.(type) {
		case string:
			if id, err := strconv.ParseUint(val, 10, 32); err == nil {
				return uint(id), true
			}
		case float64:
			return uint(val), true
		}
	}
	return 0, false
}
