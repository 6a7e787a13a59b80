package alpaca

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
)

// Global transaction counter
var txCounter atomic.Uint32

type baseResponse struct {
	ClientTransactionID uint32 `json:"ClientTransactionID"`
	ServerTransactionID uint32 `json:"ServerTransactionID"`
	ErrorNumber         int    `json:"ErrorNumber"`
	ErrorMessage        string `json:"ErrorMessage"`
	Value               any    `json:"Value,omitempty"`
}

type handlerFunc func(params url.Values) (any, error)

// requestParams returns the request parameters: the query string for GET
// requests and the URL encoded body for PUT requests.
func requestParams(r *http.Request) (url.Values, error) {
	if r.Method != http.MethodPut {
		return r.URL.Query(), nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return url.ParseQuery(string(body))
}

// param looks up a parameter. Alpaca parameter names are case insensitive.
func param(params url.Values, name string) (string, bool) {
	for key, values := range params {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0], true
		}
	}
	return "", false
}

// getClientTxID obtains the client transaction ID. A missing ID is reported
// as 0.
func getClientTxID(params url.Values) (uint32, error) {
	value, ok := param(params, "ClientTransactionID")
	if !ok {
		return 0, nil
	}

	id, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, badRequest("invalid ClientTransactionID %q", value)
	}
	return uint32(id), nil
}

func intParam(params url.Values, name string) (int, error) {
	value, ok := param(params, name)
	if !ok {
		return 0, badRequest("missing parameter %s", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, badRequest("invalid value %q for %s", value, name)
	}
	return v, nil
}

func boolParam(params url.Values, name string) (bool, error) {
	value, ok := param(params, name)
	if !ok {
		return false, badRequest("missing parameter %s", name)
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, badRequest("invalid value %q for %s", value, name)
	}
	return v, nil
}

// handleDevice adapts fn to an HTTP handler that answers with an Alpaca
// response.
func handleDevice(fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params, err := requestParams(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		txID, err := getClientTxID(params)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		value, err := fn(params)

		var br errBadRequest
		if errors.As(err, &br) {
			http.Error(w, br.Error(), http.StatusBadRequest)
			return
		}
		writeResponse(w, txID, value, err)
	})
}

// handleMgm adapts a management API function to an HTTP handler.
func handleMgm(fn func(r *http.Request) (any, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		txID, err := getClientTxID(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		value, err := fn(r)
		writeResponse(w, txID, value, err)
	})
}

func writeResponse(w http.ResponseWriter, txID uint32, value any, err error) {
	response := baseResponse{
		ClientTransactionID: txID,
		ServerTransactionID: txCounter.Add(1),
		Value:               value,
	}
	if err != nil {
		ae := asError(err)
		response.ErrorNumber = ae.Number
		response.ErrorMessage = ae.Message
		response.Value = nil
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
