package server

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/rs/zerolog"
)

// NewProxy forwards requests to the upstream API. Unreachable upstreams are
// answered with 502.
func NewProxy(upstream *url.URL, logger zerolog.Logger) *httputil.ReverseProxy {
	proxy := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(upstream)
			r.SetXForwarded()
			r.Out.Host = r.In.Host
		},
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Upstream request failed")
		writeJSON(w, http.StatusBadGateway, errorBody{Detail: "Upstream unavailable", Type: "bad_gateway"})
	}
	return proxy
}

type errorBody struct {
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
