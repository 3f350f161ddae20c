package cloud

import (
	"context"
	"errors"
	"testing"
)

func TestDesiredConfigHashStable(t *testing.T) {
	a := DesiredConfig{
		ResourceID: "r-1",
		TenantID:   "t-1",
		Spec: map[string]interface{}{
			"gateway": "10.0.0.1",
			"ports":   []interface{}{"eth0", "eth1"},
			"nested":  map[string]interface{}{"b": 2, "a": 1},
		},
	}
	b := DesiredConfig{
		ResourceID: "r-1",
		TenantID:   "t-1",
		Spec: map[string]interface{}{
			"nested":  map[string]interface{}{"a": 1, "b": 2},
			"ports":   []interface{}{"eth0", "eth1"},
			"gateway": "10.0.0.1",
		},
	}

	if a.Hash() != b.Hash() {
		t.Error("equal configs with different map ordering must hash equally")
	}

	c := a
	c.Spec = map[string]interface{}{"gateway": "10.0.0.2"}
	if a.Hash() == c.Hash() {
		t.Error("different configs must not hash equally")
	}
}

func TestHashIgnoresRevision(t *testing.T) {
	a := DesiredConfig{ResourceID: "r-1", Spec: map[string]interface{}{"x": 1}, Revision: 1}
	b := DesiredConfig{ResourceID: "r-1", Spec: map[string]interface{}{"x": 1}, Revision: 9}
	if a.Hash() != b.Hash() {
		t.Error("revision bumps without spec changes must not change the hash")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"transient", &TransientApplyError{ResourceID: "r", Reason: "conn reset"}, FailureTransient},
		{"timeout", &TimeoutError{Op: "apply", ResourceID: "r"}, FailureTimeout},
		{"deadline", context.DeadlineExceeded, FailureTimeout},
		{"wrapped deadline", errBoxed{context.DeadlineExceeded}, FailureTimeout},
		{"provisioning", &ProvisioningError{Op: "create", ResourceID: "r", Reason: "quota"}, FailureProvisioning},
		{"unknown", errors.New("weird"), FailureUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

type errBoxed struct{ inner error }

func (e errBoxed) Error() string { return "boxed: " + e.inner.Error() }
func (e errBoxed) Unwrap() error { return e.inner }

func TestFakeDestroyIsIdempotent(t *testing.T) {
	f := NewFake()
	f.AddResource(Resource{ID: "r-1", TenantID: "t-1"}, map[string]interface{}{"x": 1})

	if err := f.Destroy(context.Background(), "r-1"); err != nil {
		t.Fatalf("destroying an absent instance must succeed: %v", err)
	}

	if _, err := f.Create(context.Background(), "r-1"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := f.Destroy(context.Background(), "r-1"); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	if f.HasInstance("r-1") {
		t.Error("instance should be gone after destroy")
	}
}
