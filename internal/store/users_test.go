package store

import (
	"context"
	"database/sql"
	"testing"
)

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "u1", "alice", "hash", 5); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	byName, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if byName.ID != "u1" || byName.RoleLevel != 5 {
		t.Fatalf("unexpected user: %+v", byName)
	}

	byID, err := s.GetUserByID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if byID.Username != "alice" {
		t.Fatalf("unexpected user: %+v", byID)
	}

	if _, err := s.GetUserByUsername(ctx, "nope"); err != sql.ErrNoRows {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}

func TestUpdateUserRole(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "u1", "alice", "hash", 1); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.UpdateUserRole(ctx, "u1", 3); err != nil {
		t.Fatalf("UpdateUserRole: %v", err)
	}
	u, err := s.GetUserByID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if u.RoleLevel != 3 {
		t.Fatalf("expected role level 3, got %d", u.RoleLevel)
	}

	if err := s.UpdateUserRole(ctx, "missing", 3); err != sql.ErrNoRows {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}
