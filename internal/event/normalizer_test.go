package event

import (
	"context"
	"errors"
	"testing"
)

type stubResolver struct {
	id  string
	err error
}

func (s *stubResolver) DefaultResource(ctx context.Context, tenantID string) (string, error) {
	return s.id, s.err
}

type countingDrops struct {
	reasons []string
}

func (c *countingDrops) IncUndeliverable(reason string) {
	c.reasons = append(c.reasons, reason)
}

func TestNormalizeRouterEvents(t *testing.T) {
	n := NewNormalizer(nil, nil)

	cases := []struct {
		name       string
		raw        string
		wantKind   Kind
		wantRes    string
		wantTenant string
	}{
		{
			name:       "create",
			raw:        `{"resource_id":"r-1","tenant_id":"t-1","event_type":"router.create"}`,
			wantKind:   KindCreate,
			wantRes:    "r-1",
			wantTenant: "t-1",
		},
		{
			name:       "update",
			raw:        `{"resource_id":"r-1","tenant_id":"t-1","event_type":"router.update"}`,
			wantKind:   KindUpdate,
			wantRes:    "r-1",
			wantTenant: "t-1",
		},
		{
			name:       "delete",
			raw:        `{"resource_id":"r-1","tenant_id":"t-1","event_type":"router.delete"}`,
			wantKind:   KindDelete,
			wantRes:    "r-1",
			wantTenant: "t-1",
		},
		{
			name:       "interface change is an update",
			raw:        `{"resource_id":"r-1","tenant_id":"t-1","event_type":"router.interface.create"}`,
			wantKind:   KindCreate, // suffix "create" still signals new topology
			wantRes:    "r-1",
			wantTenant: "t-1",
		},
		{
			name:       "unknown kind maps to update",
			raw:        `{"resource_id":"r-1","tenant_id":"t-1","event_type":"instance.power_off"}`,
			wantKind:   KindUpdate,
			wantRes:    "r-1",
			wantTenant: "t-1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := n.Normalize(context.Background(), []byte(tc.raw))
			if err != nil {
				t.Fatalf("Normalize returned error: %v", err)
			}
			if ev.Kind != tc.wantKind {
				t.Errorf("kind = %q, want %q", ev.Kind, tc.wantKind)
			}
			if ev.ResourceID != tc.wantRes {
				t.Errorf("resource = %q, want %q", ev.ResourceID, tc.wantRes)
			}
			if ev.TenantID != tc.wantTenant {
				t.Errorf("tenant = %q, want %q", ev.TenantID, tc.wantTenant)
			}
		})
	}
}

func TestNormalizeUnresolvable(t *testing.T) {
	drops := &countingDrops{}
	n := NewNormalizer(nil, drops)

	cases := []struct {
		name string
		raw  string
	}{
		{"malformed", `{not json`},
		{"no tenant", `{"resource_id":"r-1","event_type":"router.update"}`},
		{"no resource and no resolver", `{"tenant_id":"t-1","event_type":"router.update"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := n.Normalize(context.Background(), []byte(tc.raw))
			if ev != nil {
				t.Fatalf("expected nil event, got %+v", ev)
			}
			var unresolvable *UnresolvableError
			if !errors.As(err, &unresolvable) {
				t.Fatalf("expected UnresolvableError, got %v", err)
			}
		})
	}

	if len(drops.reasons) != len(cases) {
		t.Errorf("expected %d undeliverable counts, got %v", len(cases), drops.reasons)
	}
}

func TestNormalizeResolvesDefaultResource(t *testing.T) {
	n := NewNormalizer(&stubResolver{id: "r-default"}, nil)

	ev, err := n.Normalize(context.Background(),
		[]byte(`{"tenant_id":"t-1","event_type":"router.update"}`))
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if ev.ResourceID != "r-default" {
		t.Errorf("resource = %q, want r-default", ev.ResourceID)
	}
}

func TestNormalizeResolverFailure(t *testing.T) {
	n := NewNormalizer(&stubResolver{err: errors.New("backend down")}, nil)

	_, err := n.Normalize(context.Background(),
		[]byte(`{"tenant_id":"t-1","event_type":"router.update"}`))
	var unresolvable *UnresolvableError
	if !errors.As(err, &unresolvable) {
		t.Fatalf("expected UnresolvableError, got %v", err)
	}
	if unresolvable.TenantID != "t-1" {
		t.Errorf("tenant = %q, want t-1", unresolvable.TenantID)
	}
}
