// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package types

type SymbolRequest struct {
	Symbol string `path:"symbol"`
}

type HistoryRequest struct {
	Symbol string `path:"symbol"`
	Start  string `form:"start,optional"`
	End    string `form:"end,optional"`
	Adjust string `form:"adjust,optional"`
}

type BatchRequest struct {
	Kind    string   `json:"kind"`
	Symbols []string `json:"symbols"`
	Start   string   `json:"start,optional"`
	End     string   `json:"end,optional"`
	Adjust  string   `json:"adjust,optional"`
}

type KindRequest struct {
	Kind string `path:"kind"`
}

type DataResponse struct {
	Request   string   `json:"request"`
	Source    string   `json:"source"`
	Stale     bool     `json:"stale"`
	Cached    bool     `json:"cached"`
	FetchedAt int64    `json:"fetchedAt"`
	Reasons   []string `json:"reasons,omitempty"`
	Data      any      `json:"data"`
}

type NameResponse struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

type BatchItem struct {
	Data    *DataResponse `json:"data,omitempty"`
	Error   string        `json:"error,omitempty"`
	Reasons []string      `json:"reasons,omitempty"`
}

type BatchResponse struct {
	Kind  string               `json:"kind"`
	Items map[string]BatchItem `json:"items"`
}

type ResetResponse struct {
	Backup string `json:"backup"`
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Reasons []string `json:"reasons,omitempty"`
}
