package mmdfstore_test

import (
	stderrors "errors"
	"slices"
	"testing"

	"github.com/infodancer/mmdfstore"
	"github.com/infodancer/mmdfstore/errors"

	// Import mmdf to trigger registration
	_ "github.com/infodancer/mmdfstore/mmdf"
)

func TestRegisteredTypes(t *testing.T) {
	types := mmdfstore.RegisteredTypes()
	if !slices.Contains(types, "mmdf") {
		t.Fatalf("mmdf not found in registered types: %v", types)
	}
	if !slices.IsSorted(types) {
		t.Errorf("types not sorted: %v", types)
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name string
		cfg  mmdfstore.StoreConfig
		err  error
	}{
		{
			name: "mmdf",
			cfg:  mmdfstore.StoreConfig{Type: "mmdf", BasePath: t.TempDir(), Options: map[string]string{"lock_dir": t.TempDir()}},
		},
		{
			name: "unregistered",
			cfg:  mmdfstore.StoreConfig{Type: "nonexistent", BasePath: t.TempDir()},
			err:  errors.ErrStoreNotRegistered,
		},
		{
			name: "empty base path",
			cfg:  mmdfstore.StoreConfig{Type: "mmdf"},
			err:  errors.ErrStoreConfigInvalid,
		},
		{
			name: "bad option",
			cfg:  mmdfstore.StoreConfig{Type: "mmdf", BasePath: t.TempDir(), Options: map[string]string{"read_only": "perhaps"}},
			err:  errors.ErrStoreConfigInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := mmdfstore.Open(tt.cfg)
			if tt.err != nil {
				if !stderrors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if store == nil {
				t.Fatal("expected non-nil store")
			}
		})
	}
}

func TestRegisterMisuse(t *testing.T) {
	factory := func(mmdfstore.StoreConfig) (mmdfstore.MsgStore, error) { return nil, nil }
	tests := []struct {
		name    string
		typ     string
		factory mmdfstore.StoreFactory
	}{
		{name: "empty name", typ: "", factory: factory},
		{name: "nil factory", typ: "x-nil", factory: nil},
		{name: "duplicate", typ: "mmdf", factory: factory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Register did not panic")
				}
			}()
			mmdfstore.Register(tt.typ, tt.factory)
		})
	}
}
