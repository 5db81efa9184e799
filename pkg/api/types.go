package api

// ScenarioRequest asks the backend to provision a scenario.
type ScenarioRequest struct {
	Repo string `json:"repo"`
}

// ScenarioResponse is returned by a successful provisioning call. The
// websocket path is opaque to the client.
type ScenarioResponse struct {
	Message       string `json:"message,omitempty"`
	SessionID     string `json:"sessionId"`
	WebsocketPath string `json:"websocketPath"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
