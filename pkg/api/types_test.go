package api

import (
	"encoding/json"
	"testing"
)

func TestScenarioResponse_JSONFieldNames(t *testing.T) {
	var resp ScenarioResponse
	body := `{"message":"Scenario started!","sessionId":"fake-session-id-123","websocketPath":"/terminal"}`
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if resp.SessionID != "fake-session-id-123" {
		t.Errorf("expected session id, got %q", resp.SessionID)
	}
	if resp.WebsocketPath != "/terminal" {
		t.Errorf("expected websocket path /terminal, got %q", resp.WebsocketPath)
	}
	if resp.Message != "Scenario started!" {
		t.Errorf("expected message, got %q", resp.Message)
	}
}

func TestScenarioRequest_JSONMarshal(t *testing.T) {
	data, err := json.Marshal(ScenarioRequest{Repo: "setup-weka"})
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	if string(data) != `{"repo":"setup-weka"}` {
		t.Errorf("unexpected encoding: %s", data)
	}
}
