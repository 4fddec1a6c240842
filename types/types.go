package types

// ---- Connector state (retained) ----

type ConnectorLevel string

const (
	ConnectorAttached ConnectorLevel = "attached"
	ConnectorDetached ConnectorLevel = "detached"
)

type ConnectorState struct {
	Name    string         `json:"name"`
	Level   ConnectorLevel `json:"level"`
	Devices int            `json:"devices"`          // live children at publish time
	Errors  int            `json:"errors,omitempty"` // per-child attach failures
	TS      int64          `json:"ts_ms"`
}

// ---- Device lifecycle events (not retained) ----

type DeviceAction string

const (
	ActionAdd    DeviceAction = "add"
	ActionBind   DeviceAction = "bind"
	ActionUnbind DeviceAction = "unbind"
	ActionRemove DeviceAction = "remove"
)

type DeviceEvent struct {
	Action DeviceAction `json:"action"`
	Name   string       `json:"name"`
	ID     int          `json:"id"`
	Driver string       `json:"driver,omitempty"`
	Node   string       `json:"node,omitempty"`  // topology node name, empty when injected
	Error  string       `json:"error,omitempty"` // machine-readable short code
	TS     int64        `json:"ts_ms"`
}
