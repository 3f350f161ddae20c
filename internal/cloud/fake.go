package cloud

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory implementation of all collaborator interfaces. It
// backs the development mode of the server and the scenario tests; failure
// injection is per resource.
type Fake struct {
	mu sync.Mutex

	resources map[string]Resource
	configs   map[string]DesiredConfig
	instances map[string]InstanceStatus

	// applied tracks the configuration hash last pushed per resource.
	applied map[string]string

	// pendingApplyErrs holds errors returned by Apply, consumed in order.
	pendingApplyErrs map[string][]error
	// pendingCreateErrs holds errors returned by Create, consumed in order.
	pendingCreateErrs map[string][]error
	// unreachableChecks makes IsReachable report false this many times.
	unreachableChecks map[string]int

	applyCalls   map[string]int
	createCalls  map[string]int
	destroyCalls map[string]int
}

// NewFake returns an empty fake cloud.
func NewFake() *Fake {
	return &Fake{
		resources:         make(map[string]Resource),
		configs:           make(map[string]DesiredConfig),
		instances:         make(map[string]InstanceStatus),
		applied:           make(map[string]string),
		pendingApplyErrs:  make(map[string][]error),
		pendingCreateErrs: make(map[string][]error),
		unreachableChecks: make(map[string]int),
		applyCalls:        make(map[string]int),
		createCalls:       make(map[string]int),
		destroyCalls:      make(map[string]int),
	}
}

// AddResource registers a resource and its desired configuration.
func (f *Fake) AddResource(res Resource, spec map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[res.ID] = res
	f.configs[res.ID] = DesiredConfig{ResourceID: res.ID, TenantID: res.TenantID, Spec: spec}
}

// SetSpec replaces a resource's desired configuration spec.
func (f *Fake) SetSpec(resourceID string, spec map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg := f.configs[resourceID]
	cfg.Spec = spec
	cfg.Revision++
	f.configs[resourceID] = cfg
}

// FailApplies makes the next n Apply calls for the resource return err.
func (f *Fake) FailApplies(resourceID string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.pendingApplyErrs[resourceID] = append(f.pendingApplyErrs[resourceID], err)
	}
}

// FailCreates makes the next n Create calls for the resource return err.
func (f *Fake) FailCreates(resourceID string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.pendingCreateErrs[resourceID] = append(f.pendingCreateErrs[resourceID], err)
	}
}

// SetUnreachableChecks makes IsReachable report false for the resource's
// instance the next n times it is asked.
func (f *Fake) SetUnreachableChecks(resourceID string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachableChecks[resourceID] = n
}

// DesiredConfig implements ConfigSource.
func (f *Fake) DesiredConfig(ctx context.Context, resourceID string) (DesiredConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[resourceID]
	if !ok {
		return DesiredConfig{}, fmt.Errorf("no desired config for %s", resourceID)
	}
	return cfg, nil
}

// Apply implements Applier.
func (f *Fake) Apply(ctx context.Context, resourceID string, desired DesiredConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyCalls[resourceID]++
	if errs := f.pendingApplyErrs[resourceID]; len(errs) > 0 {
		err := errs[0]
		f.pendingApplyErrs[resourceID] = errs[1:]
		return err
	}
	f.applied[resourceID] = desired.Hash()
	return nil
}

// Destroy implements Provisioner. Destroying an absent instance succeeds.
func (f *Fake) Destroy(ctx context.Context, resourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyCalls[resourceID]++
	delete(f.instances, resourceID)
	delete(f.applied, resourceID)
	return nil
}

// Create implements Provisioner.
func (f *Fake) Create(ctx context.Context, resourceID string) (InstanceRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls[resourceID]++
	if errs := f.pendingCreateErrs[resourceID]; len(errs) > 0 {
		err := errs[0]
		f.pendingCreateErrs[resourceID] = errs[1:]
		return "", err
	}
	ref := InstanceRef(uuid.NewString())
	f.instances[resourceID] = InstanceStatus{Ref: ref, State: InstanceUp}
	return ref, nil
}

// IsReachable implements Provisioner.
func (f *Fake) IsReachable(ctx context.Context, ref InstanceRef) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, st := range f.instances {
		if st.Ref != ref {
			continue
		}
		if n := f.unreachableChecks[id]; n > 0 {
			f.unreachableChecks[id] = n - 1
			return false, nil
		}
		return st.State == InstanceUp, nil
	}
	return false, nil
}

// Status implements Provisioner.
func (f *Fake) Status(ctx context.Context, resourceID string) (InstanceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.instances[resourceID]
	if !ok {
		return InstanceStatus{State: InstanceAbsent}, nil
	}
	return st, nil
}

// ListResources implements Inventory.
func (f *Fake) ListResources(ctx context.Context) ([]Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Resource, 0, len(f.resources))
	for _, r := range f.resources {
		out = append(out, r)
	}
	return out, nil
}

// ListTenantResources implements Inventory.
func (f *Fake) ListTenantResources(ctx context.Context, tenantID string) ([]Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Resource
	for _, r := range f.resources {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ApplyCalls reports how many times Apply was invoked for a resource.
func (f *Fake) ApplyCalls(resourceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyCalls[resourceID]
}

// CreateCalls reports how many times Create was invoked for a resource.
func (f *Fake) CreateCalls(resourceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls[resourceID]
}

// DestroyCalls reports how many times Destroy was invoked for a resource.
func (f *Fake) DestroyCalls(resourceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyCalls[resourceID]
}

// AppliedHash returns the configuration hash last applied for a resource.
func (f *Fake) AppliedHash(resourceID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied[resourceID]
}

// HasInstance reports whether a backing instance exists for the resource.
func (f *Fake) HasInstance(resourceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.instances[resourceID]
	return ok
}
