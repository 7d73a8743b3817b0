package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// setupTestStore creates a temporary store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return st
}

func testClient(guid, name string, modified int64) RemoteClient {
	return RemoteClient{GUID: guid, Name: name, Modified: modified, Type: "desktop"}
}

func testTab(url string, lastUsed int64) RemoteTab {
	return RemoteTab{
		URL:      url,
		Title:    "Tab " + url,
		History:  []string{"https://start.example", url},
		LastUsed: lastUsed,
	}
}

func TestInsertOrUpdateClients(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	clients := []RemoteClient{
		testClient("c1", "Laptop", 100),
		testClient("c2", "Phone", 200),
	}
	if err := st.InsertOrUpdateClients(ctx, clients); err != nil {
		t.Fatalf("InsertOrUpdateClients failed: %v", err)
	}

	// Second upsert with a renamed client must update, not duplicate.
	clients[0].Name = "Work Laptop"
	clients[0].Modified = 300
	if err := st.InsertOrUpdateClients(ctx, clients); err != nil {
		t.Fatalf("second InsertOrUpdateClients failed: %v", err)
	}

	got, err := st.GetClients(ctx, "")
	if err != nil {
		t.Fatalf("GetClients failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(got))
	}
	if got[0].GUID != "c1" || got[0].Name != "Work Laptop" {
		t.Errorf("expected updated c1 first (modified desc), got %+v", got[0])
	}
}

func TestInsertOrUpdateClientsBatchAtomic(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	bad := []RemoteClient{
		testClient("c1", "Laptop", 100),
		{GUID: "", Name: "broken"},
	}
	err := st.InsertOrUpdateClients(ctx, bad)
	if err == nil {
		t.Fatal("expected error for client with empty guid")
	}
	var dberr *DatabaseError
	if !errors.As(err, &dberr) {
		t.Errorf("expected *DatabaseError, got %T: %v", err, err)
	}

	// The whole batch must have rolled back.
	got, err := st.GetClients(ctx, "")
	if err != nil {
		t.Fatalf("GetClients failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty store after failed batch, got %d clients", len(got))
	}
}

func TestGetClientsExcludesLocalDevice(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	clients := []RemoteClient{
		testClient("mine", "This Device", 100),
		testClient("other", "Phone", 200),
	}
	if err := st.InsertOrUpdateClients(ctx, clients); err != nil {
		t.Fatalf("InsertOrUpdateClients failed: %v", err)
	}

	got, err := st.GetClients(ctx, "mine")
	if err != nil {
		t.Fatalf("GetClients failed: %v", err)
	}
	if len(got) != 1 || got[0].GUID != "other" {
		t.Errorf("expected only the other client, got %+v", got)
	}
}

func TestReplaceTabsFullReplace(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	// Store has tabs for client "abc" = [tabA].
	if _, err := st.InsertOrUpdateTabsForClientGUID(ctx, "abc", []RemoteTab{testTab("https://a.example", 1)}); err != nil {
		t.Fatalf("initial replace failed: %v", err)
	}

	// New snapshot arrives with [tabB, tabC].
	newTabs := []RemoteTab{testTab("https://b.example", 2), testTab("https://c.example", 3)}
	n, err := st.InsertOrUpdateTabsForClientGUID(ctx, "abc", newTabs)
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 tabs inserted, got %d", n)
	}

	got, err := st.GetTabsForClientGUID(ctx, "abc")
	if err != nil {
		t.Fatalf("GetTabsForClientGUID failed: %v", err)
	}
	if len(got) != 2 || got[0].URL != "https://b.example" || got[1].URL != "https://c.example" {
		t.Errorf("expected exactly [tabB, tabC], got %+v", got)
	}
}

func TestReplaceTabsIdempotent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	tabs := []RemoteTab{testTab("https://a.example", 1), testTab("https://b.example", 2)}
	for i := 0; i < 2; i++ {
		if _, err := st.InsertOrUpdateTabsForClientGUID(ctx, "abc", tabs); err != nil {
			t.Fatalf("replace %d failed: %v", i, err)
		}
	}

	got, err := st.GetTabsForClientGUID(ctx, "abc")
	if err != nil {
		t.Fatalf("GetTabsForClientGUID failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 tabs after repeated apply, got %d", len(got))
	}
}

func TestReplaceTabsBatchAtomic(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if _, err := st.InsertOrUpdateTabsForClientGUID(ctx, "abc", []RemoteTab{testTab("https://a.example", 1)}); err != nil {
		t.Fatalf("initial replace failed: %v", err)
	}

	// A tab without history is rejected mid-batch.
	bad := []RemoteTab{
		testTab("https://b.example", 2),
		{URL: "https://broken.example", Title: "Broken", LastUsed: 3},
	}
	_, err := st.InsertOrUpdateTabsForClientGUID(ctx, "abc", bad)
	if err == nil {
		t.Fatal("expected error for tab with empty history")
	}
	var dberr *DatabaseError
	if !errors.As(err, &dberr) {
		t.Errorf("expected *DatabaseError, got %T: %v", err, err)
	}

	// The previous tab set must survive intact, including the delete.
	got, err := st.GetTabsForClientGUID(ctx, "abc")
	if err != nil {
		t.Fatalf("GetTabsForClientGUID failed: %v", err)
	}
	if len(got) != 1 || got[0].URL != "https://a.example" {
		t.Errorf("expected prior set [tabA] after failed batch, got %+v", got)
	}
}

func TestLocalDeviceTabs(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	// Empty guid addresses the local device's own tab set.
	local := []RemoteTab{testTab("https://local.example", 5)}
	if _, err := st.InsertOrUpdateTabsForClientGUID(ctx, "", local); err != nil {
		t.Fatalf("local replace failed: %v", err)
	}
	if _, err := st.InsertOrUpdateTabsForClientGUID(ctx, "abc", []RemoteTab{testTab("https://a.example", 1)}); err != nil {
		t.Fatalf("remote replace failed: %v", err)
	}

	got, err := st.GetTabsForClientGUID(ctx, "")
	if err != nil {
		t.Fatalf("GetTabsForClientGUID failed: %v", err)
	}
	if len(got) != 1 || got[0].URL != "https://local.example" {
		t.Errorf("local tab set mixed with remote: %+v", got)
	}
	if got[0].History[1] != "https://local.example" {
		t.Errorf("history order lost: %v", got[0].History)
	}
}

func TestGetClientsAndTabsJoin(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	clients := []RemoteClient{
		testClient("c1", "Laptop", 100),
		testClient("c2", "Phone", 200),
	}
	if err := st.InsertOrUpdateClients(ctx, clients); err != nil {
		t.Fatalf("InsertOrUpdateClients failed: %v", err)
	}
	if _, err := st.InsertOrUpdateTabsForClientGUID(ctx, "c1", []RemoteTab{testTab("https://a.example", 500)}); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	got, err := st.GetClientsAndTabs(ctx, "")
	if err != nil {
		t.Fatalf("GetClientsAndTabs failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 joined rows, got %d", len(got))
	}

	// c2 first (modified desc), no tabs: freshness proxy falls back to modified.
	if got[0].Client.GUID != "c2" || got[0].ApproximateLastSyncTime() != 200 {
		t.Errorf("c2 freshness: got %+v", got[0])
	}
	// c1 has a tab: proxy is max lastUsed.
	if got[1].Client.GUID != "c1" || got[1].ApproximateLastSyncTime() != 500 {
		t.Errorf("c1 freshness: got %+v", got[1])
	}
}

func TestInsertCommandsCrossProduct(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	targets := []RemoteClient{testClient("c1", "Laptop", 1), testClient("c2", "Phone", 2)}
	cmds := []SyncCommand{
		{Command: "displayURI", Payload: `{"uri":"https://sent.example"}`},
	}

	n, err := st.InsertCommands(ctx, cmds, targets)
	if err != nil {
		t.Fatalf("InsertCommands failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows (1 command x 2 clients), got %d", n)
	}

	forC1, err := st.GetCommandsForClient(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCommandsForClient failed: %v", err)
	}
	if len(forC1) != 1 || forC1[0].ClientGUID != "c1" || forC1[0].Command != "displayURI" {
		t.Errorf("c1 commands: %+v", forC1)
	}

	if err := st.DeleteCommandsForClient(ctx, "c1"); err != nil {
		t.Fatalf("DeleteCommandsForClient failed: %v", err)
	}
	forC1, err = st.GetCommandsForClient(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCommandsForClient failed: %v", err)
	}
	if len(forC1) != 0 {
		t.Errorf("expected no commands after delete, got %d", len(forC1))
	}
	// Deleting again is a no-op.
	if err := st.DeleteCommandsForClient(ctx, "c1"); err != nil {
		t.Errorf("repeated delete failed: %v", err)
	}
}

func TestOnRemovedAccountIdempotent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.InsertOrUpdateClients(ctx, []RemoteClient{testClient("c1", "Laptop", 1)}); err != nil {
		t.Fatalf("InsertOrUpdateClients failed: %v", err)
	}
	if _, err := st.InsertOrUpdateTabsForClientGUID(ctx, "c1", []RemoteTab{testTab("https://a.example", 1)}); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := st.OnRemovedAccount(ctx); err != nil {
			t.Fatalf("OnRemovedAccount call %d failed: %v", i+1, err)
		}
	}

	clients, err := st.GetClients(ctx, "")
	if err != nil {
		t.Fatalf("GetClients failed: %v", err)
	}
	tabs, err := st.GetTabsForClientGUID(ctx, "c1")
	if err != nil {
		t.Fatalf("GetTabsForClientGUID failed: %v", err)
	}
	if len(clients) != 0 || len(tabs) != 0 {
		t.Errorf("expected empty store, got %d clients, %d tabs", len(clients), len(tabs))
	}
}

func TestOperationsAfterClose(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Closing twice is a no-op.
	if err := st.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	checks := map[string]func() error{
		"GetClients": func() error {
			_, err := st.GetClients(ctx, "")
			return err
		},
		"InsertOrUpdateClients": func() error {
			return st.InsertOrUpdateClients(ctx, []RemoteClient{testClient("c1", "Laptop", 1)})
		},
		"GetTabsForClientGUID": func() error {
			_, err := st.GetTabsForClientGUID(ctx, "c1")
			return err
		},
		"WipeTabs": func() error { return st.WipeTabs(ctx) },
		"GetCommandsForClient": func() error {
			_, err := st.GetCommandsForClient(ctx, "c1")
			return err
		},
		"UpsertRecords": func() error {
			return st.UpsertRecords(ctx, "history", []CachedRecord{{ID: "h1", Modified: 1}})
		},
		"GetRecords": func() error {
			_, err := st.GetRecords(ctx, "history")
			return err
		},
		"NeedsResync": func() error {
			_, err := st.NeedsResync(ctx, "history")
			return err
		},
		"OnRemovedAccount": func() error { return st.OnRemovedAccount(ctx) },
	}

	for name, call := range checks {
		err := call()
		if err == nil {
			t.Errorf("%s: expected error after Close", name)
			continue
		}
		var dberr *DatabaseError
		if !errors.As(err, &dberr) {
			t.Errorf("%s: expected *DatabaseError, got %T: %v", name, err, err)
		}
		if !errors.Is(err, ErrClosed) {
			t.Errorf("%s: expected ErrClosed cause, got %v", name, err)
		}
	}
}

func TestRecordCache(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	recs := []CachedRecord{
		{ID: "h1", Payload: `{"uri":"https://a.example"}`, Modified: 10},
		{ID: "h2", Payload: `{"uri":"https://b.example"}`, Modified: 20},
	}
	if err := st.UpsertRecords(ctx, "history", recs); err != nil {
		t.Fatalf("UpsertRecords failed: %v", err)
	}

	// Upsert with the same id replaces.
	if err := st.UpsertRecords(ctx, "history", []CachedRecord{{ID: "h1", Payload: "new", Modified: 30}}); err != nil {
		t.Fatalf("second UpsertRecords failed: %v", err)
	}

	count, err := st.RecordCount(ctx, "history")
	if err != nil {
		t.Fatalf("RecordCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 history records, got %d", count)
	}

	// Collections are independent.
	count, err = st.RecordCount(ctx, "logins")
	if err != nil {
		t.Fatalf("RecordCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 logins records, got %d", count)
	}

	if err := st.WipeCollection(ctx, "history"); err != nil {
		t.Fatalf("WipeCollection failed: %v", err)
	}
	count, err = st.RecordCount(ctx, "history")
	if err != nil {
		t.Fatalf("RecordCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 records after wipe, got %d", count)
	}
}

func TestResyncFlags(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	needs, err := st.NeedsResync(ctx, "history")
	if err != nil {
		t.Fatalf("NeedsResync failed: %v", err)
	}
	if needs {
		t.Error("fresh store should not need resync")
	}

	if err := st.MarkCollectionForResync(ctx, "history"); err != nil {
		t.Fatalf("MarkCollectionForResync failed: %v", err)
	}
	// Marking twice is fine.
	if err := st.MarkCollectionForResync(ctx, "history"); err != nil {
		t.Fatalf("second MarkCollectionForResync failed: %v", err)
	}

	needs, err = st.NeedsResync(ctx, "history")
	if err != nil {
		t.Fatalf("NeedsResync failed: %v", err)
	}
	if !needs {
		t.Error("expected resync flag set")
	}

	if err := st.ClearResync(ctx, "history"); err != nil {
		t.Fatalf("ClearResync failed: %v", err)
	}
	needs, err = st.NeedsResync(ctx, "history")
	if err != nil {
		t.Fatalf("NeedsResync failed: %v", err)
	}
	if needs {
		t.Error("expected resync flag cleared")
	}
}
