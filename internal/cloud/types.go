package cloud

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// Resource identifies a tenant router known to the inventory.
type Resource struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name,omitempty"`
}

// InstanceRef identifies a backing compute instance.
type InstanceRef string

// InstanceState describes the provisioning status of a backing instance.
type InstanceState string

const (
	// InstanceAbsent means no backing instance exists.
	InstanceAbsent InstanceState = "absent"

	// InstanceBooting means the instance exists but is not yet reachable.
	InstanceBooting InstanceState = "booting"

	// InstanceUp means the instance is running and reachable.
	InstanceUp InstanceState = "up"

	// InstanceError means the instance exists but is broken.
	InstanceError InstanceState = "error"
)

// InstanceStatus is the provisioner's view of a resource's backing instance.
type InstanceStatus struct {
	Ref       InstanceRef   `json:"ref,omitempty"`
	State     InstanceState `json:"state"`
	BootedAt  time.Time     `json:"booted_at,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// DesiredConfig is the target state a resource should converge to. The
// orchestrator treats it as opaque beyond hashing; rendering is the apply
// collaborator's concern.
type DesiredConfig struct {
	ResourceID string                 `json:"resource_id"`
	TenantID   string                 `json:"tenant_id"`
	Revision   int64                  `json:"revision,omitempty"`
	Spec       map[string]interface{} `json:"spec"`
}

// Hash returns a stable digest of the desired configuration, used to detect
// drift and to make duplicate applies no-ops. Map keys are canonicalized so
// equal configurations always hash equally.
func (c DesiredConfig) Hash() string {
	h := sha256.New()
	writeCanonical(h, map[string]interface{}{
		"resource_id": c.ResourceID,
		"tenant_id":   c.TenantID,
		"spec":        c.Spec,
	})
	return hex.EncodeToString(h.Sum(nil))
}

type hashWriter interface {
	Write(p []byte) (int, error)
}

func writeCanonical(w hashWriter, v interface{}) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w.Write([]byte{'{'})
		for _, k := range keys {
			w.Write([]byte(k))
			w.Write([]byte{':'})
			writeCanonical(w, t[k])
			w.Write([]byte{','})
		}
		w.Write([]byte{'}'})
	case []interface{}:
		w.Write([]byte{'['})
		for _, e := range t {
			writeCanonical(w, e)
			w.Write([]byte{','})
		}
		w.Write([]byte{']'})
	default:
		b, _ := json.Marshal(t)
		w.Write(b)
	}
}
