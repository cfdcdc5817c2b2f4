// Package transport implements the live session wire protocol and the duplex
// channel that carries it.
//
// Every frame is a JSON object with a "type" tag. Outbound kinds are config,
// audio, video, and end; inbound kinds are status, audio, text, summary, and
// error. Audio and video payloads are base64 in the "data" field.
package transport

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// MessageType is the "type" tag of a protocol frame.
type MessageType string

// Message kinds.
const (
	TypeConfig  MessageType = "config"
	TypeAudio   MessageType = "audio"
	TypeVideo   MessageType = "video"
	TypeText    MessageType = "text"
	TypeStatus  MessageType = "status"
	TypeSummary MessageType = "summary"
	TypeError   MessageType = "error"
	TypeEnd     MessageType = "end"
)

// Status values carried by status frames.
const (
	StatusConnected = "connected"
	StatusEnded     = "ended"
)

// DefaultImageMIMEType is the MIME type of outbound video snapshots.
const DefaultImageMIMEType = "image/jpeg"

// Message is one decoded protocol frame. Only the fields belonging to Type
// are meaningful.
type Message struct {
	Type MessageType

	// EnableVideo is set on config frames.
	EnableVideo bool

	// Audio is raw little-endian int16 PCM (audio frames).
	Audio []byte

	// SampleRate accompanies outbound audio. Inbound audio usually omits it.
	SampleRate int

	// Image is the encoded snapshot and MIMEType its format (video frames).
	Image    []byte
	MIMEType string

	// Content is the transcript line of a text frame.
	Content string

	// Status is "connected" or "ended" on status frames.
	Status string

	// Summary is the end-of-session payload of a summary frame.
	Summary *Summary

	// ErrorMessage is the peer-reported cause of an error frame.
	ErrorMessage string
}

// Summary is the end-of-session report produced by the peer.
type Summary struct {
	Summary     string       `json:"summary"`
	Insights    string       `json:"insights"`
	Vitals      *Vitals      `json:"vitals,omitempty"`
	Medications []Medication `json:"medications,omitempty"`
	Diagnosis   string       `json:"diagnosis,omitempty"`
	Protocol    string       `json:"protocol,omitempty"`
}

// Vitals are the readings extracted from the conversation. Any of them may be absent.
type Vitals struct {
	HeartRate  *float64 `json:"heart_rate,omitempty"`
	SpO2Level  *float64 `json:"spo2_level,omitempty"`
	SleepHours *float64 `json:"sleep_hours,omitempty"`
}

// Medication is one medication mention with its reported status.
type Medication struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ConfigMessage builds the first frame of every session.
func ConfigMessage(enableVideo bool) Message {
	return Message{Type: TypeConfig, EnableVideo: enableVideo}
}

// AudioMessage builds an outbound audio frame.
func AudioMessage(pcm []byte, sampleRate int) Message {
	return Message{Type: TypeAudio, Audio: pcm, SampleRate: sampleRate}
}

// VideoMessage builds an outbound video frame.
func VideoMessage(image []byte, mimeType string) Message {
	if mimeType == "" {
		mimeType = DefaultImageMIMEType
	}
	return Message{Type: TypeVideo, Image: image, MIMEType: mimeType}
}

// EndMessage builds the client termination frame.
func EndMessage() Message {
	return Message{Type: TypeEnd}
}

// wireMessage is the JSON shape shared by all frame kinds.
type wireMessage struct {
	Type        MessageType     `json:"type"`
	EnableVideo *bool           `json:"enable_video,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	SampleRate  int             `json:"sample_rate,omitempty"`
	MIMEType    string          `json:"mime_type,omitempty"`
	Content     *string         `json:"content,omitempty"`
	Status      string          `json:"status,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// Encode serializes m to its JSON wire form.
func Encode(m Message) ([]byte, error) {
	w := wireMessage{Type: m.Type}

	switch m.Type {
	case TypeConfig:
		enable := m.EnableVideo
		w.EnableVideo = &enable
	case TypeAudio:
		if m.SampleRate <= 0 {
			return nil, fmt.Errorf("audio message requires a sample rate")
		}
		data, err := json.Marshal(base64.StdEncoding.EncodeToString(m.Audio))
		if err != nil {
			return nil, err
		}
		w.Data = data
		w.SampleRate = m.SampleRate
	case TypeVideo:
		data, err := json.Marshal(base64.StdEncoding.EncodeToString(m.Image))
		if err != nil {
			return nil, err
		}
		w.Data = data
		w.MIMEType = m.MIMEType
		if w.MIMEType == "" {
			w.MIMEType = DefaultImageMIMEType
		}
	case TypeText:
		content := m.Content
		w.Content = &content
	case TypeStatus:
		w.Status = m.Status
	case TypeSummary:
		if m.Summary != nil {
			data, err := json.Marshal(m.Summary)
			if err != nil {
				return nil, err
			}
			w.Data = data
		}
	case TypeError:
		w.Message = m.ErrorMessage
	case TypeEnd:
	default:
		return nil, fmt.Errorf("unknown message type %q", m.Type)
	}

	return json.Marshal(w)
}

// Decode parses one inbound frame. Malformed frames and unknown kinds return
// a *ProtocolError; callers log and drop them.
func Decode(raw []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, &ProtocolError{Reason: "invalid JSON", Cause: err}
	}
	if w.Type == "" {
		return Message{}, &ProtocolError{Reason: "missing type tag"}
	}

	m := Message{Type: w.Type}
	switch w.Type {
	case TypeStatus:
		if w.Status == "" {
			return Message{}, &ProtocolError{Type: w.Type, Reason: "missing status"}
		}
		m.Status = w.Status
	case TypeAudio:
		pcm, err := decodeBase64Field(w.Data)
		if err != nil {
			return Message{}, &ProtocolError{Type: w.Type, Reason: "bad audio data", Cause: err}
		}
		if len(pcm) == 0 {
			return Message{}, &ProtocolError{Type: w.Type, Reason: "empty audio data"}
		}
		m.Audio = pcm
		m.SampleRate = w.SampleRate
	case TypeVideo:
		img, err := decodeBase64Field(w.Data)
		if err != nil {
			return Message{}, &ProtocolError{Type: w.Type, Reason: "bad video data", Cause: err}
		}
		m.Image = img
		m.MIMEType = w.MIMEType
	case TypeText:
		if w.Content != nil {
			m.Content = *w.Content
		}
	case TypeSummary:
		s, err := decodeSummary(w.Data)
		if err != nil {
			return Message{}, &ProtocolError{Type: w.Type, Reason: "bad summary data", Cause: err}
		}
		m.Summary = s
	case TypeError:
		m.ErrorMessage = w.Message
		if m.ErrorMessage == "" {
			m.ErrorMessage = "peer reported an unspecified error"
		}
	case TypeConfig:
		if w.EnableVideo != nil {
			m.EnableVideo = *w.EnableVideo
		}
	case TypeEnd:
	default:
		return Message{}, &ProtocolError{Type: w.Type, Reason: "unknown message type", Cause: ErrUnknownType}
	}
	return m, nil
}

func decodeBase64Field(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(s)
}

// decodeSummary accepts the structured object and, for older peers, a bare string.
func decodeSummary(raw json.RawMessage) (*Summary, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("missing data")
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		return &Summary{Summary: text}, nil
	}
	var s Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
