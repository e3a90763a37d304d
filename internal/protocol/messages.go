package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	APIName    = "VTubeStudioPublicAPI"
	APIVersion = "1.0"
)

// MessageType identifies avatar-server payload variants.
type MessageType string

const (
	TypeAuthenticationTokenRequest   MessageType = "AuthenticationTokenRequest"
	TypeAuthenticationTokenResponse  MessageType = "AuthenticationTokenResponse"
	TypeAuthenticationRequest        MessageType = "AuthenticationRequest"
	TypeAuthenticationResponse       MessageType = "AuthenticationResponse"
	TypeInputParameterListRequest    MessageType = "InputParameterListRequest"
	TypeInputParameterListResponse   MessageType = "InputParameterListResponse"
	TypeParameterCreationRequest     MessageType = "ParameterCreationRequest"
	TypeParameterCreationResponse    MessageType = "ParameterCreationResponse"
	TypeParameterValueRequest        MessageType = "ParameterValueRequest"
	TypeParameterValueResponse       MessageType = "ParameterValueResponse"
	TypeInjectParameterDataRequest   MessageType = "InjectParameterDataRequest"
	TypeInjectParameterDataResponse  MessageType = "InjectParameterDataResponse"
	TypeHotkeysInCurrentModelRequest MessageType = "HotkeysInCurrentModelRequest"
	TypeHotkeysInCurrentModelResp    MessageType = "HotkeysInCurrentModelResponse"
	TypeHotkeyTriggerRequest         MessageType = "HotkeyTriggerRequest"
	TypeHotkeyTriggerResponse        MessageType = "HotkeyTriggerResponse"
	TypeAPIError                     MessageType = "APIError"
)

var ErrUnexpectedType = errors.New("unexpected response message type")

// Request is the outbound envelope. Data is omitted for payload-less requests.
type Request struct {
	APIName     string      `json:"apiName"`
	APIVersion  string      `json:"apiVersion"`
	RequestID   string      `json:"requestID"`
	MessageType MessageType `json:"messageType"`
	Data        any         `json:"data,omitempty"`
}

// Response is the inbound envelope; Data stays raw until the caller decodes it.
type Response struct {
	APIName     string          `json:"apiName"`
	APIVersion  string          `json:"apiVersion"`
	Timestamp   int64           `json:"timestamp"`
	RequestID   string          `json:"requestID"`
	MessageType MessageType     `json:"messageType"`
	Data        json.RawMessage `json:"data"`
}

// APIError is what the server answers instead of the expected response.
type APIError struct {
	ErrorID     int         `json:"errorID"`
	Message     string      `json:"message"`
	RequestType MessageType `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("avatar api error %d on %s: %s", e.ErrorID, e.RequestType, e.Message)
}

// NewRequest builds an envelope with a fresh request ID.
func NewRequest(t MessageType, data any) Request {
	return Request{
		APIName:     APIName,
		APIVersion:  APIVersion,
		RequestID:   uuid.NewString(),
		MessageType: t,
		Data:        data,
	}
}

func ParseResponse(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, fmt.Errorf("invalid envelope: %w", err)
	}
	return resp, nil
}

// Decode unmarshals Data into out. An APIError envelope is returned as *APIError.
func (r Response) Decode(out any) error {
	if r.MessageType == TypeAPIError {
		apiErr := &APIError{}
		if len(r.Data) > 0 {
			if err := json.Unmarshal(r.Data, apiErr); err != nil {
				return fmt.Errorf("decode APIError: %w", err)
			}
		}
		return apiErr
	}
	if out == nil || len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("decode %s: %w", r.MessageType, err)
	}
	return nil
}

// Expect is Decode plus a message type check.
func (r Response) Expect(want MessageType, out any) error {
	if err := r.Decode(out); err != nil {
		return err
	}
	if r.MessageType != want {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedType, r.MessageType, want)
	}
	return nil
}

type AuthenticationTokenRequest struct {
	PluginName      string `json:"pluginName"`
	PluginDeveloper string `json:"pluginDeveloper"`
	PluginIcon      string `json:"pluginIcon,omitempty"`
}

type AuthenticationTokenResponse struct {
	AuthenticationToken string `json:"authenticationToken"`
}

type AuthenticationRequest struct {
	PluginName          string `json:"pluginName"`
	PluginDeveloper     string `json:"pluginDeveloper"`
	AuthenticationToken string `json:"authenticationToken"`
}

type AuthenticationResponse struct {
	Authenticated bool   `json:"authenticated"`
	Reason        string `json:"reason"`
}

type Parameter struct {
	Name         string  `json:"name"`
	AddedBy      string  `json:"addedBy,omitempty"`
	Value        float64 `json:"value"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	DefaultValue float64 `json:"defaultValue"`
}

type InputParameterListResponse struct {
	ModelLoaded       bool        `json:"modelLoaded"`
	ModelName         string      `json:"modelName"`
	ModelID           string      `json:"modelID"`
	CustomParameters  []Parameter `json:"customParameters"`
	DefaultParameters []Parameter `json:"defaultParameters"`
}

type ParameterCreationRequest struct {
	ParameterName string  `json:"parameterName"`
	Explanation   string  `json:"explanation"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	DefaultValue  float64 `json:"defaultValue"`
}

type ParameterCreationResponse struct {
	ParameterName string `json:"parameterName"`
}

type ParameterValueRequest struct {
	Name string `json:"name"`
}

type ParameterValue struct {
	ID     string   `json:"id"`
	Value  float64  `json:"value"`
	Weight *float64 `json:"weight,omitempty"`
}

type InjectParameterDataRequest struct {
	FaceFound       bool             `json:"faceFound"`
	Mode            string           `json:"mode"`
	ParameterValues []ParameterValue `json:"parameterValues"`
}

type Hotkey struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	File        string `json:"file,omitempty"`
	HotkeyID    string `json:"hotkeyID"`
}

type HotkeysInCurrentModelResponse struct {
	ModelLoaded      bool     `json:"modelLoaded"`
	ModelName        string   `json:"modelName"`
	ModelID          string   `json:"modelID"`
	AvailableHotkeys []Hotkey `json:"availableHotkeys"`
}

type HotkeyTriggerRequest struct {
	HotkeyID string `json:"hotkeyID"`
}

type HotkeyTriggerResponse struct {
	HotkeyID string `json:"hotkeyID"`
}
