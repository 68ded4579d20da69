package pane

import (
	"context"
	"testing"
)

func TestManagerRemoveUnknownPane(t *testing.T) {
	m := NewManager(context.Background(), nil)
	defer m.Close()

	if err := m.RemovePane("missing"); err == nil {
		t.Fatal("RemovePane on unknown id: want error")
	}
	if _, ok := m.Get("missing"); ok {
		t.Fatal("Get on unknown id: want not found")
	}
	if ids := m.IDs(); len(ids) != 0 {
		t.Fatalf("IDs = %v, want empty", ids)
	}
}

func TestManagerCloseWithoutPanes(t *testing.T) {
	m := NewManager(context.Background(), nil)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
