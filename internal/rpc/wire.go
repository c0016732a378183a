package rpc

// Wire format shared by HTTPClient and the dummy service.

const (
	StatusOK    = "ok"
	StatusError = "error"

	CallPathPrefix = "/rpc/"
	HealthPath     = "/healthz"
	CallIDHeader   = "X-Call-Id"
)

type CallRequest struct {
	ID        string `json:"id"`
	Procedure string `json:"procedure"`
	Params    []any  `json:"params"`
}

type CallResponse struct {
	ID     string           `json:"id"`
	Status string           `json:"status"`
	Error  string           `json:"error,omitempty"`
	Rows   []map[string]any `json:"rows,omitempty"`
}
