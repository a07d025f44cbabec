package comms

// Cmd is a command received from a client, e.g. {"cmd": "move", "name": "lid", "value": 120}.
type Cmd struct {
	Cmd   string  `json:"cmd"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type StatePayload struct {
	Name             string `json:"name"`
	Position         int    `json:"position"`
	Moving           bool   `json:"moving"`
	Calibrating      bool   `json:"calibrating"`
	CalibrationError string `json:"calibration_error,omitempty"`
}

type ErrorPayload struct {
	Cmd   Cmd    `json:"cmd"`
	Error string `json:"error"`
}
