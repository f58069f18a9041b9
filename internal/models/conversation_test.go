package models

import (
	"errors"
	"strings"
	"testing"
)

func TestChatRequestValidate(t *testing.T) {
	req := ChatRequest{Message: "hello"}
	if err := req.Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	req.Message = ""
	if err := req.Validate(); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}

	req.Message = strings.Repeat("a", MaxMessageLength+1)
	if err := req.Validate(); !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("expected ErrMessageTooLong, got %v", err)
	}

	req.Message = strings.Repeat("a", MaxMessageLength)
	if err := req.Validate(); err != nil {
		t.Errorf("boundary-length message rejected: %v", err)
	}
}

func TestMessageValidate(t *testing.T) {
	valid := Message{ConversationID: "c1", Role: RoleUser, Content: "hi"}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid message rejected: %v", err)
	}

	cases := []struct {
		name string
		m    Message
		want error
	}{
		{"missing conversation", Message{Role: RoleUser, Content: "hi"}, ErrEmptyConversation},
		{"bad role", Message{ConversationID: "c1", Role: "system", Content: "hi"}, ErrInvalidRole},
		{"empty content", Message{ConversationID: "c1", Role: RoleAssistant}, ErrEmptyMessage},
		{"too long", Message{ConversationID: "c1", Role: RoleUser, Content: strings.Repeat("a", MaxMessageLength+1)}, ErrMessageTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.m.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateConversationRequestValidate(t *testing.T) {
	req := CreateConversationRequest{}
	if err := req.Validate(); err != nil {
		t.Errorf("untitled conversation rejected: %v", err)
	}

	req.Title = strings.Repeat("t", MaxTitleLength+1)
	if err := req.Validate(); !errors.Is(err, ErrTitleTooLong) {
		t.Errorf("expected ErrTitleTooLong, got %v", err)
	}
}

func TestFlagsCloneAndLookup(t *testing.T) {
	f := Flags{FlagHasSpouse: true, FlagHasRRSP: false}

	if !f.True(FlagHasSpouse) {
		t.Error("spouse flag should read true")
	}
	if f.True(FlagHasRRSP) {
		t.Error("false flag should not read true")
	}
	if !f.Known(FlagHasRRSP) {
		t.Error("false flag is still known")
	}
	if f.Known(FlagHasDonations) {
		t.Error("unset flag should be unknown")
	}

	clone := f.Clone()
	clone[FlagHasSpouse] = false
	if !f.True(FlagHasSpouse) {
		t.Error("mutating a clone must not touch the original")
	}
}
