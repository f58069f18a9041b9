package store

import (
	"errors"
	"testing"
	"time"

	"github.com/northledger/taxchat/internal/models"
)

func newConversation(id, userID string) models.Conversation {
	now := time.Now()
	return models.Conversation{
		ID:     id,
		UserID: userID,
		Title:  "2024 return",
		State: models.ConversationState{
			Phase:      "identity",
			SubStep:    0,
			WaitingFor: models.FieldFirstName,
			Flags:      models.Flags{},
		},
		ExtractedData: models.ExtractedData{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestInMemoryStoreConversationRoundTrip(t *testing.T) {
	st := NewInMemoryStore()
	defer st.Close()

	if err := st.CreateConversation(newConversation("c1", "u1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := st.GetConversation("c1", "u1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.ID != "c1" || got.UserID != "u1" {
		t.Fatalf("unexpected conversation: %+v", got)
	}
	if got.Turn != 0 || got.State.Turn != 0 {
		t.Errorf("fresh conversation should be at turn 0, got %d/%d", got.Turn, got.State.Turn)
	}
}

func TestInMemoryStoreOwnershipMasking(t *testing.T) {
	st := NewInMemoryStore()
	defer st.Close()

	if err := st.CreateConversation(newConversation("c1", "u1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Foreign and nonexistent ids must be indistinguishable.
	foreign, err := st.GetConversation("c1", "u2")
	if err != nil || foreign != nil {
		t.Errorf("foreign lookup should be nil,nil; got %v, %v", foreign, err)
	}
	missing, err := st.GetConversation("nope", "u1")
	if err != nil || missing != nil {
		t.Errorf("missing lookup should be nil,nil; got %v, %v", missing, err)
	}

	// A foreign delete is a no-op.
	if err := st.DeleteConversation("c1", "u2"); err != nil {
		t.Fatalf("foreign delete errored: %v", err)
	}
	if got, _ := st.GetConversation("c1", "u1"); got == nil {
		t.Error("foreign delete must not remove the row")
	}

	// A foreign state save reports not-found, never conflict.
	err = st.SaveConversationState("c1", "u2", models.ConversationState{}, models.ExtractedData{}, 0)
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestInMemoryStoreListConversations(t *testing.T) {
	st := NewInMemoryStore()
	defer st.Close()

	_ = st.CreateConversation(newConversation("c1", "u1"))
	_ = st.CreateConversation(newConversation("c2", "u1"))
	_ = st.CreateConversation(newConversation("c3", "u2"))

	list, err := st.ListConversations("u1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 conversations for u1, got %d", len(list))
	}
	for _, c := range list {
		if c.UserID != "u1" {
			t.Errorf("foreign conversation leaked into list: %+v", c)
		}
	}
}

func TestInMemoryStoreSaveConversationState(t *testing.T) {
	st := NewInMemoryStore()
	defer st.Close()

	_ = st.CreateConversation(newConversation("c1", "u1"))

	newState := models.ConversationState{Phase: "identity", SubStep: 1, WaitingFor: models.FieldLastName, Flags: models.Flags{}, Turn: 1}
	data := models.ExtractedData{models.FieldFirstName: "John"}

	if err := st.SaveConversationState("c1", "u1", newState, data, 0); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, _ := st.GetConversation("c1", "u1")
	if got.Turn != 1 {
		t.Errorf("expected turn 1 after save, got %d", got.Turn)
	}
	if got.State.SubStep != 1 {
		t.Errorf("state not persisted: %+v", got.State)
	}
	if got.ExtractedData.String(models.FieldFirstName) != "John" {
		t.Errorf("data not persisted: %v", got.ExtractedData)
	}

	// Replaying the same expected turn now conflicts.
	err := st.SaveConversationState("c1", "u1", newState, data, 0)
	if !errors.Is(err, ErrTurnConflict) {
		t.Errorf("expected ErrTurnConflict on replay, got %v", err)
	}

	// The row is untouched by the losing save.
	got, _ = st.GetConversation("c1", "u1")
	if got.Turn != 1 {
		t.Errorf("losing save must not advance the turn, got %d", got.Turn)
	}
}

func TestInMemoryStoreMessages(t *testing.T) {
	st := NewInMemoryStore()
	defer st.Close()

	_ = st.CreateConversation(newConversation("c1", "u1"))

	msgs := []models.Message{
		{ID: "m1", ConversationID: "c1", Role: models.RoleUser, Content: "hi", CreatedAt: time.Now()},
		{ID: "m2", ConversationID: "c1", Role: models.RoleAssistant, Content: "hello!", PromptTokens: 40, CompletionTokens: 12, CreatedAt: time.Now()},
	}
	for _, m := range msgs {
		if err := st.AddMessage(m); err != nil {
			t.Fatalf("add message failed: %v", err)
		}
	}

	got, err := st.ListMessages("c1", "u1")
	if err != nil {
		t.Fatalf("list messages failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Errorf("unexpected messages: %+v", got)
	}
	if got[1].CompletionTokens != 12 {
		t.Errorf("token accounting lost: %+v", got[1])
	}

	// Foreign user sees nothing.
	foreign, err := st.ListMessages("c1", "u2")
	if err != nil || len(foreign) != 0 {
		t.Errorf("foreign message listing should be empty; got %v, %v", foreign, err)
	}
}

func TestInMemoryStoreTaxProfile(t *testing.T) {
	st := NewInMemoryStore()
	defer st.Close()

	missing, err := st.GetTaxProfile("u1")
	if err != nil || missing != nil {
		t.Errorf("missing profile should be nil,nil; got %v, %v", missing, err)
	}

	p := models.TaxProfile{UserID: "u1", Data: models.ExtractedData{models.FieldFirstName: "John"}, UpdatedAt: time.Now()}
	if err := st.SaveTaxProfile(p); err != nil {
		t.Fatalf("save profile failed: %v", err)
	}

	p.Data = models.ExtractedData{models.FieldFirstName: "John", models.FieldProvince: "BC"}
	if err := st.SaveTaxProfile(p); err != nil {
		t.Fatalf("profile upsert failed: %v", err)
	}

	got, err := st.GetTaxProfile("u1")
	if err != nil || got == nil {
		t.Fatalf("get profile failed: %v, %v", got, err)
	}
	if got.Data.String(models.FieldProvince) != "BC" {
		t.Errorf("upsert did not replace data: %v", got.Data)
	}
}

func TestInMemoryStoreAuthTokens(t *testing.T) {
	st := NewInMemoryStore()
	defer st.Close()

	if err := st.AddAuthToken("tk_abc", "u1"); err != nil {
		t.Fatalf("add token failed: %v", err)
	}

	userID, err := st.GetUserIDByToken("tk_abc")
	if err != nil || userID != "u1" {
		t.Errorf("expected u1, got %q, %v", userID, err)
	}

	unknown, err := st.GetUserIDByToken("tk_nope")
	if err != nil || unknown != "" {
		t.Errorf("unknown token should resolve to empty user id; got %q, %v", unknown, err)
	}
}
