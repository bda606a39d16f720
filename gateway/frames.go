// Wire protocol - typed envelopes for the duplex connection

package gateway

import (
	"encoding/json"

	"github.com/mxchat/mxgate/pkg/config"
)

// Inbound message types
const (
	MsgTypeChat          = "chat_message"
	MsgTypeUpdateConfig  = "update_config"
	MsgTypeSelectConfig  = "select_config"
	MsgTypeInitialConfig = "get_initial_config"
	MsgTypeModeChange    = "mode_change"
	MsgTypeLog           = "log"
)

// Outbound frame types
const (
	FrameStatus        = "status"
	FrameChatMessage   = "mx-chat-message"
	FrameConfigUpdated = "config_updated"
	FrameModeChanged   = "mode_changed"
)

// Chat modes
const (
	ModeChat  = "chat"
	ModeAgent = "agent"
)

// Inbound is the closed set of client messages. Parsing yields exactly
// one variant or a MalformedMessageError, never a generic object.
type Inbound interface {
	isInbound()
}

// ChatMessage is a chat turn to relay to the completion endpoint.
type ChatMessage struct {
	Text      string
	Mode      string
	ImageData string
}

// UpdateConfig replaces the model profile configuration.
type UpdateConfig struct {
	Datasets      []config.ModelProfile
	SelectedModel string
}

// SelectConfig switches the active profile to an existing dataset.
type SelectConfig struct {
	SelectedModel string
}

// InitialConfigRequest asks for the current configuration snapshot.
type InitialConfigRequest struct{}

// ModeChange notifies the gateway of a client-side mode switch.
type ModeChange struct {
	Mode string
}

// ClientLog carries a frontend log line.
type ClientLog struct {
	Message string
}

func (*ChatMessage) isInbound()          {}
func (*UpdateConfig) isInbound()         {}
func (*SelectConfig) isInbound()         {}
func (*InitialConfigRequest) isInbound() {}
func (*ModeChange) isInbound()           {}
func (*ClientLog) isInbound()            {}

// rawEnvelope is the superset of inbound fields; ParseInbound narrows it
// to one variant based on the type discriminator.
type rawEnvelope struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Mode      string `json:"mode"`
	ImageData string `json:"imageData"`
	Message   string `json:"message"`
	Config    *struct {
		Datasets      *[]config.ModelProfile `json:"datasets"`
		SelectedModel *string                `json:"selected_model"`
	} `json:"config"`
}

// ParseInbound deserializes one text frame into its typed variant.
func ParseInbound(data []byte) (Inbound, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}

	switch raw.Type {
	case MsgTypeChat:
		if raw.Text == "" {
			return nil, malformed("chat_message requires text")
		}
		mode := raw.Mode
		if mode == "" {
			mode = ModeChat
		}
		if mode != ModeChat && mode != ModeAgent {
			return nil, malformed("unknown chat mode %q", mode)
		}
		return &ChatMessage{Text: raw.Text, Mode: mode, ImageData: raw.ImageData}, nil

	case MsgTypeUpdateConfig:
		if raw.Config == nil || raw.Config.Datasets == nil || raw.Config.SelectedModel == nil {
			return nil, malformed("update_config requires config.datasets and config.selected_model")
		}
		return &UpdateConfig{Datasets: *raw.Config.Datasets, SelectedModel: *raw.Config.SelectedModel}, nil

	case MsgTypeSelectConfig:
		if raw.Config == nil || raw.Config.SelectedModel == nil {
			return nil, malformed("select_config requires config.selected_model")
		}
		return &SelectConfig{SelectedModel: *raw.Config.SelectedModel}, nil

	case MsgTypeInitialConfig:
		return &InitialConfigRequest{}, nil

	case MsgTypeModeChange:
		if raw.Mode == "" {
			return nil, malformed("mode_change requires mode")
		}
		return &ModeChange{Mode: raw.Mode}, nil

	case MsgTypeLog:
		if raw.Message == "" {
			return nil, malformed("log requires message")
		}
		return &ClientLog{Message: raw.Message}, nil

	case "":
		return nil, malformed("missing type field")
	default:
		return nil, malformed("unknown message type %q", raw.Type)
	}
}

// Frame is one outbound message: a type discriminator plus payload.
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// StatusData is the payload of the initial status frame.
type StatusData struct {
	Status StatusInfo `json:"status"`
	SID    string     `json:"sid"`
}

type StatusInfo struct {
	ExecInfo ExecInfo `json:"exec_info"`
}

type ExecInfo struct {
	QueueRemaining int `json:"queue_remaining"`
}

// ChatData is the payload of mx-chat-message frames, both streamed
// deltas and error notices.
type ChatData struct {
	Text             string `json:"text"`
	ReasoningContent string `json:"reasoning_content"`
	IsUser           bool   `json:"isUser"`
	Sender           string `json:"sender"`
	Mode             string `json:"mode"`
	Format           string `json:"format,omitempty"`
	Error            string `json:"error,omitempty"`
}

// ConfigUpdatedData is the payload of config_updated frames.
type ConfigUpdatedData struct {
	Success       bool                `json:"success"`
	Config        *config.ProfileFile `json:"config,omitempty"`
	SelectedModel string              `json:"selected_model,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// ModeChangedData acknowledges a mode_change message.
type ModeChangedData struct {
	Mode string `json:"mode"`
}

func statusFrame(sid string, queueRemaining int) Frame {
	return Frame{
		Type: FrameStatus,
		Data: StatusData{
			Status: StatusInfo{ExecInfo: ExecInfo{QueueRemaining: queueRemaining}},
			SID:    sid,
		},
	}
}

func configUpdatedFrame(snap config.ProfileFile) Frame {
	return Frame{
		Type: FrameConfigUpdated,
		Data: ConfigUpdatedData{Success: true, Config: &snap},
	}
}

func configErrorFrame(msg string) Frame {
	return Frame{
		Type: FrameConfigUpdated,
		Data: ConfigUpdatedData{Success: false, Error: msg},
	}
}
