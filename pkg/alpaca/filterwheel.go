package alpaca

import (
	"net/http"
	"net/url"
)

// FilterWheel is an Alpaca filter wheel. Position is -1 while the wheel is
// moving.
type FilterWheel interface {
	Device

	Names() ([]string, error)
	FocusOffsets() ([]int, error)
	Position() (int, error)
	SetPosition(pos int) error
}

type FilterWheelHandler struct {
	DeviceHandler
	dev FilterWheel
}

func NewFilterWheelHandler(dev FilterWheel) *FilterWheelHandler {
	return &FilterWheelHandler{
		DeviceHandler: DeviceHandler{dev: dev},
		dev:           dev,
	}
}

func (fh *FilterWheelHandler) RegisterRoutes(mux *http.ServeMux) {
	fh.DeviceHandler.RegisterRoutes(mux)

	mux.Handle("GET /names", handleDevice(fh.handleNames))
	mux.Handle("GET /focusoffsets", handleDevice(fh.handleFocusOffsets))
	mux.Handle("GET /position", handleDevice(fh.handlePosition))
	mux.Handle("PUT /position", handleDevice(fh.handleSetPosition))
}

func (fh *FilterWheelHandler) handleNames(url.Values) (any, error) {
	return fh.dev.Names()
}

func (fh *FilterWheelHandler) handleFocusOffsets(url.Values) (any, error) {
	return fh.dev.FocusOffsets()
}

func (fh *FilterWheelHandler) handlePosition(url.Values) (any, error) {
	return fh.dev.Position()
}

func (fh *FilterWheelHandler) handleSetPosition(params url.Values) (any, error) {
	pos, err := intParam(params, "Position")
	if err != nil {
		return nil, err
	}
	return nil, fh.dev.SetPosition(pos)
}
