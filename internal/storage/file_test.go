package storage

import (
	"context"
	"testing"
	"time"

	logx "shelfwatch/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUserBlobRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if _, ok, err := st.GetUser(ctx, 42); err != nil || ok {
		t.Fatalf("GetUser on empty store: ok=%v err=%v", ok, err)
	}

	blob := []byte(`{"user_id":42,"tier":"gold"}`)
	if err := st.PutUser(ctx, 42, blob); err != nil {
		t.Fatalf("PutUser: %v", err)
	}

	got, ok, err := st.GetUser(ctx, 42)
	if err != nil || !ok {
		t.Fatalf("GetUser: ok=%v err=%v", ok, err)
	}
	if string(got) != string(blob) {
		t.Errorf("blob = %s, want %s", got, blob)
	}

	ids, err := st.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(ids) != 1 || ids[0] != 42 {
		t.Errorf("ListUsers = %v", ids)
	}
}

func TestInventoryBlobOverwriteAndDelete(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if err := st.PutInventory(ctx, "A25WS8YVXEJW8B", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("PutInventory: %v", err)
	}
	if err := st.PutInventory(ctx, "A25WS8YVXEJW8B", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("PutInventory overwrite: %v", err)
	}
	got, ok, err := st.GetInventory(ctx, "A25WS8YVXEJW8B")
	if err != nil || !ok {
		t.Fatalf("GetInventory: ok=%v err=%v", ok, err)
	}
	if string(got) != `{"v":2}` {
		t.Errorf("blob = %s", got)
	}

	if err := st.DeleteInventory(ctx, "A25WS8YVXEJW8B"); err != nil {
		t.Fatalf("DeleteInventory: %v", err)
	}
	if _, ok, _ := st.GetInventory(ctx, "A25WS8YVXEJW8B"); ok {
		t.Error("inventory still present after delete")
	}
	// Deleting again is not an error.
	if err := st.DeleteInventory(ctx, "A25WS8YVXEJW8B"); err != nil {
		t.Errorf("second DeleteInventory: %v", err)
	}
}

func TestCheckTimestamps(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if _, ok, err := st.GetCheck(ctx, "S1"); err != nil || ok {
		t.Fatalf("GetCheck empty: ok=%v err=%v", ok, err)
	}

	at := time.Now().Truncate(time.Millisecond)
	if err := st.PutCheck(ctx, "S1", at); err != nil {
		t.Fatalf("PutCheck: %v", err)
	}
	got, ok, err := st.GetCheck(ctx, "S1")
	if err != nil || !ok {
		t.Fatalf("GetCheck: ok=%v err=%v", ok, err)
	}
	if !got.Equal(at) {
		t.Errorf("check at = %v, want %v", got, at)
	}
}

func TestAppendAudit(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	e := AuditEntry{
		UserID:    7,
		SellerID:  "S1",
		ProductID: "B0C1XYZ123",
		Delivered: false,
		Attempts:  3,
		Error:     "telegram: 502",
	}
	if err := st.AppendAudit(ctx, e); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	if err := st.AppendAudit(ctx, e); err != nil {
		t.Fatalf("second AppendAudit: %v", err)
	}
}

func TestSanitizeKey(t *testing.T) {
	if got := sanitizeKey("A25WS8YVXEJW8B"); got != "A25WS8YVXEJW8B" {
		t.Errorf("plain key mangled: %q", got)
	}
	if got := sanitizeKey("../etc"); got == "../etc" {
		t.Errorf("path chars not escaped: %q", got)
	}
}
