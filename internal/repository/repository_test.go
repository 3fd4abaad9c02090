package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/mapsync"
	"github.com/rpattn/mapsync/internal/db"
	"github.com/rpattn/mapsync/internal/domain"
)

// testConn connects to the database named by MAPSYNC_TEST_DBNAME (default
// config otherwise) and runs migrations. Tests are skipped when
// MAPSYNC_TEST_DB is unset so the suite stays runnable without Postgres.
func testConn(t *testing.T) *db.Connection {
	t.Helper()
	if os.Getenv("MAPSYNC_TEST_DB") == "" {
		t.Skip("set MAPSYNC_TEST_DB=1 to run database tests")
	}

	config := db.DefaultConfig()
	if name := os.Getenv("MAPSYNC_TEST_DBNAME"); name != "" {
		config.DBName = name
	}

	logger := zap.NewNop()
	conn, err := db.NewConnection(context.Background(), config, logger)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(conn.Close)

	if err := db.RunMigrations(mapsync.Migrations, "migrations", config, logger); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return conn
}

func testActor() *domain.Actor {
	return &domain.Actor{UserID: uuid.New(), DisplayName: "tester"}
}

func TestMapAndNodeLifecycle(t *testing.T) {
	conn := testConn(t)
	maps := NewMapRepository(conn)
	nodes := NewNodeRepository(conn)
	ctx := context.Background()
	actor := testActor()

	m, root, err := maps.Create(ctx, "lifecycle", nil, nil)
	if err != nil {
		t.Fatalf("create map failed: %v", err)
	}
	defer maps.Delete(ctx, m.ID)
	if m.Version != 0 {
		t.Fatalf("new map should start at version 0, got %d", m.Version)
	}
	if root.ParentID != nil || root.Content != "lifecycle" {
		t.Fatalf("unexpected root node %+v", root)
	}

	child, err := nodes.Create(ctx, CreateNodeParams{
		MapID:    m.ID,
		ParentID: &root.ID,
		Content:  "child",
		Position: 1,
		Actor:    actor,
	})
	if err != nil {
		t.Fatalf("create node failed: %v", err)
	}
	if child.Version != 1 {
		t.Fatalf("first mutation should land at version 1, got %d", child.Version)
	}

	content := "renamed"
	updated, err := nodes.Update(ctx, m.ID, child.ID, domain.NodeChanges{Content: &content}, actor)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Content != "renamed" || updated.Version != 2 {
		t.Fatalf("unexpected updated node %+v", updated)
	}
	if updated.LastEditedByName != "tester" {
		t.Fatalf("expected editor attribution, got %q", updated.LastEditedByName)
	}

	version, err := maps.CurrentVersion(ctx, m.ID)
	if err != nil || version != 2 {
		t.Fatalf("expected current version 2, got %d (%v)", version, err)
	}

	entries, err := maps.ChangesSince(ctx, m.ID, 0)
	if err != nil {
		t.Fatalf("changes since failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 change log entries, got %d", len(entries))
	}
}

func TestUpdateRejectsEmptyChanges(t *testing.T) {
	conn := testConn(t)
	maps := NewMapRepository(conn)
	nodes := NewNodeRepository(conn)
	ctx := context.Background()

	m, root, err := maps.Create(ctx, "no-op", nil, nil)
	if err != nil {
		t.Fatalf("create map failed: %v", err)
	}
	defer maps.Delete(ctx, m.ID)

	if _, err := nodes.Update(ctx, m.ID, root.ID, domain.NodeChanges{}, testActor()); !errors.Is(err, domain.ErrEmptyChanges) {
		t.Fatalf("expected ErrEmptyChanges, got %v", err)
	}
	if version, _ := maps.CurrentVersion(ctx, m.ID); version != 0 {
		t.Fatalf("rejected update must not bump the version, got %d", version)
	}
}

func TestCreateUnderMissingParent(t *testing.T) {
	conn := testConn(t)
	maps := NewMapRepository(conn)
	nodes := NewNodeRepository(conn)
	ctx := context.Background()

	m, _, err := maps.Create(ctx, "orphan", nil, nil)
	if err != nil {
		t.Fatalf("create map failed: %v", err)
	}
	defer maps.Delete(ctx, m.ID)

	ghost := uuid.New()
	if _, err := nodes.Create(ctx, CreateNodeParams{MapID: m.ID, ParentID: &ghost, Content: "x"}); !errors.Is(err, domain.ErrParentNotFound) {
		t.Fatalf("expected ErrParentNotFound, got %v", err)
	}
	if version, _ := maps.CurrentVersion(ctx, m.ID); version != 0 {
		t.Fatalf("failed create must not bump the version, got %d", version)
	}
}

func TestDeleteCascadesAndSnapshots(t *testing.T) {
	conn := testConn(t)
	maps := NewMapRepository(conn)
	nodes := NewNodeRepository(conn)
	history := NewHistoryRepository(conn)
	ctx := context.Background()
	actor := testActor()

	m, root, err := maps.Create(ctx, "cascade", nil, nil)
	if err != nil {
		t.Fatalf("create map failed: %v", err)
	}
	defer maps.Delete(ctx, m.ID)

	branch, err := nodes.Create(ctx, CreateNodeParams{MapID: m.ID, ParentID: &root.ID, Content: "branch", Actor: actor})
	if err != nil {
		t.Fatalf("create branch failed: %v", err)
	}
	leaf, err := nodes.Create(ctx, CreateNodeParams{MapID: m.ID, ParentID: &branch.ID, Content: "leaf", Actor: actor})
	if err != nil {
		t.Fatalf("create leaf failed: %v", err)
	}

	result, err := nodes.Delete(ctx, m.ID, branch.ID, actor)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(result.DeletedIDs) != 2 || result.DeletedIDs[0] != branch.ID {
		t.Fatalf("expected root-first cascade [%s %s], got %v", branch.ID, leaf.ID, result.DeletedIDs)
	}
	if result.NewVersion != 3 {
		t.Fatalf("expected version 3 after three mutations, got %d", result.NewVersion)
	}

	if _, err := nodes.GetByID(ctx, m.ID, leaf.ID); !errors.Is(err, domain.ErrNodeNotFound) {
		t.Fatalf("expected leaf gone, got %v", err)
	}

	trail, err := history.ListByNode(ctx, branch.ID, 10)
	if err != nil {
		t.Fatalf("history list failed: %v", err)
	}
	var deleteEntry *domain.NodeHistoryEntry
	for i := range trail {
		if trail[i].Action == domain.ActionDelete {
			deleteEntry = &trail[i]
		}
	}
	if deleteEntry == nil {
		t.Fatalf("expected a delete history entry, got %+v", trail)
	}
	if len(deleteEntry.Snapshot) != 2 {
		t.Fatalf("expected snapshot of both nodes, got %d", len(deleteEntry.Snapshot))
	}
	if deleteEntry.Snapshot[0].ID != branch.ID {
		t.Fatalf("snapshot should be root first, got %v", deleteEntry.Snapshot[0].ID)
	}

	// The cascade stamps one change log row per node, all at one version.
	entries, err := maps.ChangesSince(ctx, m.ID, 2)
	if err != nil {
		t.Fatalf("changes since failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 delete rows, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Version != 3 || e.Action != domain.ActionDelete {
			t.Fatalf("unexpected change log entry %+v", e)
		}
	}
}

func TestCreateWithExplicitID(t *testing.T) {
	conn := testConn(t)
	maps := NewMapRepository(conn)
	nodes := NewNodeRepository(conn)
	ctx := context.Background()

	m, root, err := maps.Create(ctx, "explicit-id", nil, nil)
	if err != nil {
		t.Fatalf("create map failed: %v", err)
	}
	defer maps.Delete(ctx, m.ID)

	want := uuid.New()
	style := json.RawMessage(`{"color":"blue"}`)
	node, err := nodes.Create(ctx, CreateNodeParams{
		MapID:    m.ID,
		ParentID: &root.ID,
		Content:  "pinned",
		Style:    style,
		NodeID:   &want,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if node.ID != want {
		t.Fatalf("expected id %s, got %s", want, node.ID)
	}
}

func TestMapDeleteRemovesEverything(t *testing.T) {
	conn := testConn(t)
	maps := NewMapRepository(conn)
	ctx := context.Background()

	m, _, err := maps.Create(ctx, "doomed", nil, nil)
	if err != nil {
		t.Fatalf("create map failed: %v", err)
	}
	if err := maps.Delete(ctx, m.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := maps.Delete(ctx, m.ID); !errors.Is(err, domain.ErrMapNotFound) {
		t.Fatalf("expected ErrMapNotFound on second delete, got %v", err)
	}
	if _, err := maps.GetByID(ctx, m.ID); !errors.Is(err, domain.ErrMapNotFound) {
		t.Fatalf("expected map gone, got %v", err)
	}
}
