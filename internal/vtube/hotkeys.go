package vtube

import (
	"context"
	"fmt"

	"github.com/ent0n29/vtutor/internal/protocol"
)

func ListHotkeys(ctx context.Context, s Sender) ([]protocol.Hotkey, error) {
	resp, err := s.Send(ctx, protocol.NewRequest(protocol.TypeHotkeysInCurrentModelRequest, nil))
	if err != nil {
		return nil, err
	}
	var out protocol.HotkeysInCurrentModelResponse
	if err := resp.Expect(protocol.TypeHotkeysInCurrentModelResp, &out); err != nil {
		return nil, fmt.Errorf("list hotkeys: %w", err)
	}
	return out.AvailableHotkeys, nil
}

func TriggerHotkey(ctx context.Context, s Sender, hotkeyID string) error {
	if hotkeyID == "" {
		return invalid("hotkeyID", "must not be empty")
	}
	resp, err := s.Send(ctx, protocol.NewRequest(protocol.TypeHotkeyTriggerRequest, protocol.HotkeyTriggerRequest{HotkeyID: hotkeyID}))
	if err != nil {
		return err
	}
	if err := resp.Expect(protocol.TypeHotkeyTriggerResponse, nil); err != nil {
		return fmt.Errorf("trigger hotkey %s: %w", hotkeyID, err)
	}
	return nil
}
