package alpaca

import (
	"net/http"
	"net/url"
)

// DeviceHandler serves the endpoints common to every Alpaca device.
type DeviceHandler struct {
	dev Device
}

func NewDeviceHandler(dev Device) *DeviceHandler {
	return &DeviceHandler{dev}
}

func (h *DeviceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /name", handleDevice(h.handleName))
	mux.Handle("GET /description", handleDevice(h.handleDescription))
	mux.Handle("GET /driverinfo", handleDevice(h.handleDriverInfo))
	mux.Handle("GET /driverversion", handleDevice(h.handleDriverVersion))
	mux.Handle("GET /interfaceversion", handleDevice(h.handleInterfaceVersion))
	mux.Handle("GET /devicestate", handleDevice(h.handleState))
	mux.Handle("GET /supportedactions", handleDevice(h.handleSupportedActions))

	mux.Handle("GET /connected", handleDevice(h.handleConnected))
	mux.Handle("PUT /connected", handleDevice(h.handleSetConnected))
	mux.Handle("GET /connecting", handleDevice(h.handleConnecting))
	mux.Handle("PUT /connect", handleDevice(h.handleConnect))
	mux.Handle("PUT /disconnect", handleDevice(h.handleDisconnect))

	for _, method := range []string{"action", "commandblind", "commandbool", "commandstring"} {
		mux.Handle("PUT /"+method, handleDevice(notImplemented))
	}
}

func notImplemented(url.Values) (any, error) {
	return nil, ErrNotImplemented
}

func (h *DeviceHandler) handleName(url.Values) (any, error) {
	return h.dev.DeviceInfo().Name, nil
}

func (h *DeviceHandler) handleDescription(url.Values) (any, error) {
	return h.dev.DeviceInfo().Description, nil
}

func (h *DeviceHandler) handleDriverInfo(url.Values) (any, error) {
	return h.dev.DriverInfo().Name, nil
}

func (h *DeviceHandler) handleDriverVersion(url.Values) (any, error) {
	return h.dev.DriverInfo().Version, nil
}

func (h *DeviceHandler) handleInterfaceVersion(url.Values) (any, error) {
	return h.dev.DriverInfo().InterfaceVersion, nil
}

func (h *DeviceHandler) handleState(url.Values) (any, error) {
	return h.dev.GetState(), nil
}

func (h *DeviceHandler) handleSupportedActions(url.Values) (any, error) {
	return []string{}, nil
}

func (h *DeviceHandler) handleConnected(url.Values) (any, error) {
	return h.dev.Connected(), nil
}

func (h *DeviceHandler) handleConnecting(url.Values) (any, error) {
	return h.dev.Connecting(), nil
}

func (h *DeviceHandler) handleSetConnected(params url.Values) (any, error) {
	connected, err := boolParam(params, "Connected")
	if err != nil {
		return nil, err
	}

	switch {
	case connected && !h.dev.Connected():
		return nil, h.dev.Connect()
	case !connected && h.dev.Connected():
		return nil, h.dev.Disconnect()
	}
	return nil, nil
}

func (h *DeviceHandler) handleConnect(url.Values) (any, error) {
	return nil, h.dev.Connect()
}

func (h *DeviceHandler) handleDisconnect(url.Values) (any, error) {
	return nil, h.dev.Disconnect()
}
