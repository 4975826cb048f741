package services

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/trellid/go-room-server/internal/config"
	"github.com/trellid/go-room-server/internal/repo"
)

// newCoreDB opens a migrated per-test database with immediate write
// transactions, mirroring the production bootstrap.
func newCoreDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), fmt.Sprintf("core_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open("file:"+path+"?_txlock=immediate"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA busy_timeout=5000;")

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// testConfig returns a config suitable for tests: generous limits, short
// timeouts.
func testConfig() *config.Config {
	return &config.Config{
		DBPath:         "unused",
		StorageTimeout: 10 * time.Second,
		SigningSecret:  "test-signing-secret",
		TokenTTL:       time.Hour,
		ServerName:     "test",
		IdempotencyTTL: time.Hour,
		LoginRPS:       100,
		LoginBurst:     100,
	}
}

// newTestCore wires a full coordinator over a fresh database.
func newTestCore(t *testing.T) *Coordinator {
	t.Helper()
	return New(newCoreDB(t), testConfig(), zerolog.Nop())
}

// registerUser creates an account and returns its ID and a valid token.
func registerUser(t *testing.T, c *Coordinator, username string) (string, string) {
	t.Helper()
	u, token, err := c.Auth.Register(context.Background(), username, "correct horse battery staple")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return u.ID, token
}

// mustMutate runs a mutation that is expected to succeed.
func mustMutate(t *testing.T, c *Coordinator, token, path, txnID string, req MutationRequest) *Response {
	t.Helper()
	resp, err := c.HandleMutation(context.Background(), token, path, txnID, req)
	if err != nil {
		t.Fatalf("%s: %v", req.kind(), err)
	}
	return resp
}

// createRoom makes a room via the coordinator and returns its ID.
func createRoom(t *testing.T, c *Coordinator, token, joinRule string) string {
	t.Helper()
	resp := mustMutate(t, c, token, "/createRoom/"+fmt.Sprint(time.Now().UnixNano()), "", CreateRoom{JoinRule: joinRule})
	var body map[string]string
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("decode create room response: %v", err)
	}
	if body["room_id"] == "" {
		t.Fatalf("no room_id in response: %s", resp.Body)
	}
	return body["room_id"]
}
