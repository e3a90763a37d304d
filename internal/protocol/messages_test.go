package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewRequestEnvelope(t *testing.T) {
	req := NewRequest(TypeHotkeyTriggerRequest, HotkeyTriggerRequest{HotkeyID: "abc"})
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got["apiName"] != APIName || got["apiVersion"] != APIVersion {
		t.Fatalf("unexpected api identity: %+v", got)
	}
	if got["messageType"] != string(TypeHotkeyTriggerRequest) {
		t.Fatalf("messageType = %v, want %v", got["messageType"], TypeHotkeyTriggerRequest)
	}
	if id, _ := got["requestID"].(string); id == "" {
		t.Fatalf("requestID should not be empty")
	}
	data, _ := got["data"].(map[string]any)
	if data["hotkeyID"] != "abc" {
		t.Fatalf("data.hotkeyID = %v, want abc", data["hotkeyID"])
	}
}

func TestNewRequestOmitsEmptyData(t *testing.T) {
	raw, err := json.Marshal(NewRequest(TypeInputParameterListRequest, nil))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got map[string]any
	_ = json.Unmarshal(raw, &got)
	if _, ok := got["data"]; ok {
		t.Fatalf("data should be omitted, got %s", raw)
	}
}

func TestNewRequestIDsAreUnique(t *testing.T) {
	a := NewRequest(TypeAuthenticationRequest, nil)
	b := NewRequest(TypeAuthenticationRequest, nil)
	if a.RequestID == b.RequestID {
		t.Fatalf("request IDs should differ, both %q", a.RequestID)
	}
}

func TestResponseExpectDecodesPayload(t *testing.T) {
	raw := []byte(`{"apiName":"VTubeStudioPublicAPI","apiVersion":"1.0","timestamp":1,"requestID":"r1","messageType":"AuthenticationTokenResponse","data":{"authenticationToken":"tok"}}`)
	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	var out AuthenticationTokenResponse
	if err := resp.Expect(TypeAuthenticationTokenResponse, &out); err != nil {
		t.Fatalf("Expect() error = %v", err)
	}
	if out.AuthenticationToken != "tok" {
		t.Fatalf("AuthenticationToken = %q, want tok", out.AuthenticationToken)
	}
}

func TestResponseDecodeAPIError(t *testing.T) {
	raw := []byte(`{"requestID":"r1","messageType":"APIError","data":{"errorID":50,"message":"User has denied API access for your plugin."}}`)
	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	err = resp.Expect(TypeAuthenticationTokenResponse, &AuthenticationTokenResponse{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.ErrorID != 50 {
		t.Fatalf("ErrorID = %d, want 50", apiErr.ErrorID)
	}
}

func TestResponseExpectRejectsWrongType(t *testing.T) {
	resp := Response{MessageType: TypeHotkeyTriggerResponse, Data: json.RawMessage(`{}`)}
	err := resp.Expect(TypeAuthenticationResponse, &AuthenticationResponse{})
	if !errors.Is(err, ErrUnexpectedType) {
		t.Fatalf("error = %v, want ErrUnexpectedType", err)
	}
}

func TestParseResponseMalformed(t *testing.T) {
	if _, err := ParseResponse([]byte(`{`)); err == nil {
		t.Fatalf("ParseResponse() expected error for malformed JSON")
	}
}
