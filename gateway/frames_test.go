package gateway

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseInboundChat(t *testing.T) {
	in, err := ParseInbound([]byte(`{"type":"chat_message","text":"hello","mode":"chat"}`))
	if err != nil {
		t.Fatalf("ParseInbound failed: %v", err)
	}
	msg, ok := in.(*ChatMessage)
	if !ok {
		t.Fatalf("Expected *ChatMessage, got %T", in)
	}
	if msg.Text != "hello" || msg.Mode != "chat" {
		t.Errorf("Unexpected chat message: %+v", msg)
	}
}

func TestParseInboundChatDefaultsMode(t *testing.T) {
	in, err := ParseInbound([]byte(`{"type":"chat_message","text":"hi"}`))
	if err != nil {
		t.Fatalf("ParseInbound failed: %v", err)
	}
	if in.(*ChatMessage).Mode != ModeChat {
		t.Errorf("Expected default mode chat, got %q", in.(*ChatMessage).Mode)
	}
}

func TestParseInboundChatWithImage(t *testing.T) {
	in, err := ParseInbound([]byte(`{"type":"chat_message","text":"look","mode":"agent","imageData":"aGk="}`))
	if err != nil {
		t.Fatalf("ParseInbound failed: %v", err)
	}
	msg := in.(*ChatMessage)
	if msg.ImageData != "aGk=" || msg.Mode != ModeAgent {
		t.Errorf("Unexpected chat message: %+v", msg)
	}
}

func TestParseInboundUpdateConfig(t *testing.T) {
	doc := `{"type":"update_config","config":{"datasets":[{"model":"m1","url":"https://x","api_key":"k"}],"selected_model":"m1"}}`
	in, err := ParseInbound([]byte(doc))
	if err != nil {
		t.Fatalf("ParseInbound failed: %v", err)
	}
	upd := in.(*UpdateConfig)
	if len(upd.Datasets) != 1 || upd.Datasets[0].Model != "m1" {
		t.Errorf("Unexpected datasets: %+v", upd.Datasets)
	}
	if upd.SelectedModel != "m1" {
		t.Errorf("Expected selected m1, got %q", upd.SelectedModel)
	}
}

func TestParseInboundSelectConfig(t *testing.T) {
	in, err := ParseInbound([]byte(`{"type":"select_config","config":{"selected_model":"m2"}}`))
	if err != nil {
		t.Fatalf("ParseInbound failed: %v", err)
	}
	if in.(*SelectConfig).SelectedModel != "m2" {
		t.Errorf("Expected m2, got %q", in.(*SelectConfig).SelectedModel)
	}
}

func TestParseInboundSimpleTypes(t *testing.T) {
	if in, err := ParseInbound([]byte(`{"type":"get_initial_config"}`)); err != nil {
		t.Errorf("get_initial_config failed: %v", err)
	} else if _, ok := in.(*InitialConfigRequest); !ok {
		t.Errorf("Expected *InitialConfigRequest, got %T", in)
	}

	if in, err := ParseInbound([]byte(`{"type":"mode_change","mode":"agent"}`)); err != nil {
		t.Errorf("mode_change failed: %v", err)
	} else if in.(*ModeChange).Mode != "agent" {
		t.Errorf("Expected mode agent, got %q", in.(*ModeChange).Mode)
	}

	if in, err := ParseInbound([]byte(`{"type":"log","message":"frontend booted"}`)); err != nil {
		t.Errorf("log failed: %v", err)
	} else if in.(*ClientLog).Message != "frontend booted" {
		t.Errorf("Unexpected log message: %+v", in)
	}
}

func TestParseInboundMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"invalid json", `{not json`},
		{"missing type", `{"text":"hi"}`},
		{"unknown type", `{"type":"bogus"}`},
		{"chat without text", `{"type":"chat_message","mode":"chat"}`},
		{"chat bad mode", `{"type":"chat_message","text":"hi","mode":"turbo"}`},
		{"update without config", `{"type":"update_config"}`},
		{"update without selected", `{"type":"update_config","config":{"datasets":[]}}`},
		{"select without config", `{"type":"select_config"}`},
		{"mode change without mode", `{"type":"mode_change"}`},
		{"log without message", `{"type":"log"}`},
	}

	for _, tc := range cases {
		_, err := ParseInbound([]byte(tc.data))
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		var mm *MalformedMessageError
		if !errors.As(err, &mm) {
			t.Errorf("%s: expected MalformedMessageError, got %T", tc.name, err)
		}
	}
}

func TestStatusFrameShape(t *testing.T) {
	data, err := json.Marshal(statusFrame("sid-1", 2))
	if err != nil {
		t.Fatal(err)
	}

	var got struct {
		Type string `json:"type"`
		Data struct {
			Status struct {
				ExecInfo struct {
					QueueRemaining int `json:"queue_remaining"`
				} `json:"exec_info"`
			} `json:"status"`
			SID string `json:"sid"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != FrameStatus {
		t.Errorf("Expected type status, got %q", got.Type)
	}
	if got.Data.SID != "sid-1" {
		t.Errorf("Expected sid-1, got %q", got.Data.SID)
	}
	if got.Data.Status.ExecInfo.QueueRemaining != 2 {
		t.Errorf("Expected queue_remaining 2, got %d", got.Data.Status.ExecInfo.QueueRemaining)
	}
}

func TestChatDataWireFields(t *testing.T) {
	data, err := json.Marshal(ChatData{
		Text:             "He",
		ReasoningContent: "",
		IsUser:           false,
		Sender:           "MXChat",
		Mode:             "chat",
		Format:           "markdown",
	})
	if err != nil {
		t.Fatal(err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"text", "reasoning_content", "isUser", "sender", "mode", "format"} {
		if _, ok := m[key]; !ok {
			t.Errorf("Missing wire field %q", key)
		}
	}
	if _, ok := m["error"]; ok {
		t.Error("error field should be omitted when empty")
	}
}
