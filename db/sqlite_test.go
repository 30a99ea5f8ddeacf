package db

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"testing"

	"parlor/models"
)

func setupTestDB(t *testing.T) *SQLite {
	t.Helper()
	database, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), 0)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func mustAppend(t *testing.T, store Store, sender, receiver, body string) int64 {
	t.Helper()
	id, err := store.Append(context.Background(), sender, receiver, body)
	if err != nil {
		t.Fatalf("Append(%q, %q, %q) failed: %v", sender, receiver, body, err)
	}
	return id
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store { return setupTestDB(t) })
}

// runStoreTests holds the behaviour every Store backend must share.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("append assigns increasing ids", func(t *testing.T) {
		store := newStore(t)
		first := mustAppend(t, store, "alice", "all", "one")
		second := mustAppend(t, store, "bob", "alice", "two")
		third := mustAppend(t, store, "alice", "", "three")
		if !(first < second && second < third) {
			t.Errorf("ids not strictly increasing: %d, %d, %d", first, second, third)
		}
	})

	t.Run("empty body persists nothing", func(t *testing.T) {
		store := newStore(t)
		for _, body := range []string{"", "   ", "\n\t "} {
			if _, err := store.Append(ctx, "alice", "all", body); !errors.Is(err, models.ErrEmptyBody) {
				t.Errorf("Append(body=%q) error = %v, want ErrEmptyBody", body, err)
			}
		}
		entries, err := store.ListBroadcastAndInbox(ctx, "bob", 0)
		if err != nil {
			t.Fatalf("ListBroadcastAndInbox failed: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("expected no messages, got %v", entries)
		}
	})

	t.Run("inbox and conversation views", func(t *testing.T) {
		store := newStore(t)
		mustAppend(t, store, "alice", "all", "x")
		mustAppend(t, store, "alice", "bob", "y")
		mustAppend(t, store, "bob", "alice", "z")

		inbox, err := store.ListBroadcastAndInbox(ctx, "bob", 0)
		if err != nil {
			t.Fatalf("ListBroadcastAndInbox failed: %v", err)
		}
		wantInbox := []models.Entry{{Sender: "alice", Body: "x"}, {Sender: "alice", Body: "y"}}
		if !reflect.DeepEqual(inbox, wantInbox) {
			t.Errorf("inbox = %v, want %v", inbox, wantInbox)
		}

		wantConv := []models.Entry{{Sender: "alice", Body: "y"}, {Sender: "bob", Body: "z"}}
		for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
			conv, err := store.ListConversation(ctx, pair[0], pair[1], 0)
			if err != nil {
				t.Fatalf("ListConversation failed: %v", err)
			}
			if !reflect.DeepEqual(conv, wantConv) {
				t.Errorf("ListConversation(%s, %s) = %v, want %v", pair[0], pair[1], conv, wantConv)
			}
		}
	})

	t.Run("empty receiver is broadcast", func(t *testing.T) {
		store := newStore(t)
		mustAppend(t, store, "alice", "", "hello")

		inbox, err := store.ListBroadcastAndInbox(ctx, "carol", 0)
		if err != nil {
			t.Fatalf("ListBroadcastAndInbox failed: %v", err)
		}
		if len(inbox) != 1 || inbox[0].Body != "hello" {
			t.Errorf("inbox = %v, want the broadcast", inbox)
		}
	})

	t.Run("conversation ignores third parties", func(t *testing.T) {
		store := newStore(t)
		mustAppend(t, store, "alice", "bob", "for bob")
		mustAppend(t, store, "alice", "carol", "for carol")
		mustAppend(t, store, "alice", "all", "for everyone")

		conv, err := store.ListConversation(ctx, "bob", "alice", 0)
		if err != nil {
			t.Fatalf("ListConversation failed: %v", err)
		}
		want := []models.Entry{{Sender: "alice", Body: "for bob"}}
		if !reflect.DeepEqual(conv, want) {
			t.Errorf("conversation = %v, want %v", conv, want)
		}
	})

	t.Run("limit keeps most recent in order", func(t *testing.T) {
		store := newStore(t)
		for _, body := range []string{"1", "2", "3", "4", "5"} {
			mustAppend(t, store, "alice", "all", body)
		}

		entries, err := store.ListBroadcastAndInbox(ctx, "bob", 2)
		if err != nil {
			t.Fatalf("ListBroadcastAndInbox failed: %v", err)
		}
		want := []models.Entry{{Sender: "alice", Body: "4"}, {Sender: "alice", Body: "5"}}
		if !reflect.DeepEqual(entries, want) {
			t.Errorf("entries = %v, want %v", entries, want)
		}
	})

	t.Run("concurrent appends", func(t *testing.T) {
		store := newStore(t)
		const writers, perWriter = 8, 10

		var (
			mu  sync.Mutex
			ids []int64
			wg  sync.WaitGroup
		)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					id, err := store.Append(ctx, "alice", "all", "hi")
					if err != nil {
						t.Errorf("Append failed: %v", err)
						return
					}
					mu.Lock()
					ids = append(ids, id)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if len(ids) != writers*perWriter {
			t.Fatalf("got %d ids, want %d", len(ids), writers*perWriter)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for i := 1; i < len(ids); i++ {
			if ids[i] == ids[i-1] {
				t.Fatalf("duplicate id %d", ids[i])
			}
		}
	})

	t.Run("users", func(t *testing.T) {
		store := newStore(t)

		user, err := store.CreateUser(ctx, "alice", "secret")
		if err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
		if user.ID == 0 || user.Username != "alice" || user.IsAdmin {
			t.Errorf("unexpected user %+v", user)
		}
		if user.PasswordHash == "secret" {
			t.Error("password stored in plain text")
		}

		if _, err := store.CreateUser(ctx, "alice", "other"); !errors.Is(err, ErrUsernameTaken) {
			t.Errorf("duplicate CreateUser error = %v, want ErrUsernameTaken", err)
		}
		// usernames are case-sensitive
		if _, err := store.CreateUser(ctx, "Alice", "secret"); err != nil {
			t.Errorf("CreateUser(Alice) failed: %v", err)
		}

		if _, err := store.Authenticate(ctx, "alice", "secret"); err != nil {
			t.Errorf("Authenticate failed: %v", err)
		}
		if _, err := store.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Authenticate(wrong password) error = %v, want ErrInvalidCredentials", err)
		}
		if _, err := store.Authenticate(ctx, "nobody", "secret"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Authenticate(unknown user) error = %v, want ErrInvalidCredentials", err)
		}

		names, err := store.Usernames(ctx)
		if err != nil {
			t.Fatalf("Usernames failed: %v", err)
		}
		if want := []string{"alice", "Alice"}; !reflect.DeepEqual(names, want) {
			t.Errorf("Usernames = %v, want %v", names, want)
		}
	})

	t.Run("set admin", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.CreateUser(ctx, "root", "secret"); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}

		if err := store.SetAdmin(ctx, "root", true); err != nil {
			t.Fatalf("SetAdmin failed: %v", err)
		}
		user, err := store.GetUser(ctx, "root")
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if !user.IsAdmin {
			t.Error("expected user to be admin")
		}

		if err := store.SetAdmin(ctx, "ghost", true); !errors.Is(err, ErrNotFound) {
			t.Errorf("SetAdmin(ghost) error = %v, want ErrNotFound", err)
		}
		if _, err := store.GetUser(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetUser(ghost) error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")

	first, err := NewSQLite(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id := mustAppend(t, first, "alice", "all", "kept")
	first.Close()

	second, err := NewSQLite(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	next := mustAppend(t, second, "alice", "all", "after")
	if next <= id {
		t.Errorf("id after reopen = %d, want > %d", next, id)
	}
	entries, err := second.ListBroadcastAndInbox(context.Background(), "bob", 0)
	if err != nil {
		t.Fatalf("ListBroadcastAndInbox failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Body != "kept" {
		t.Errorf("entries = %v, want kept message first", entries)
	}
}

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"valid", "alice", "secret", nil},
		{"email style", "alice@example.com", "secret", nil},
		{"unicode", "ёжик", "secret", nil},
		{"empty username", "", "secret", ErrInvalidUsername},
		{"space in username", "al ice", "secret", ErrInvalidUsername},
		{"reserved broadcast name", "all", "secret", ErrInvalidUsername},
		{"empty password", "alice", "", ErrInvalidPassword},
		{"long password", "alice", string(make([]byte, 73)), ErrInvalidPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCredentials(tt.username, tt.password)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
