package cloud

import (
	"context"
	"errors"
	"fmt"
)

// TransientApplyError reports a configuration push that failed in a way that
// is expected to succeed on retry.
type TransientApplyError struct {
	ResourceID string
	Reason     string
}

func (e *TransientApplyError) Error() string {
	return fmt.Sprintf("apply failed for %s: %s", e.ResourceID, e.Reason)
}

// TimeoutError reports a collaborator call that exceeded its deadline. It is
// treated identically to a transient failure by the state machine.
type TimeoutError struct {
	Op         string
	ResourceID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out for %s", e.Op, e.ResourceID)
}

// ProvisioningError reports a failed destroy/create of a backing instance.
type ProvisioningError struct {
	Op         string
	ResourceID string
	Reason     string
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s failed for %s: %s", e.Op, e.ResourceID, e.Reason)
}

// FailureKind buckets collaborator errors for counters and alerting.
type FailureKind string

const (
	FailureTransient    FailureKind = "transient"
	FailureTimeout      FailureKind = "timeout"
	FailureProvisioning FailureKind = "provisioning"
	FailureUnknown      FailureKind = "unknown"
)

// Classify maps a collaborator error to a failure kind. Context deadline
// errors count as timeouts even when the collaborator did not wrap them.
func Classify(err error) FailureKind {
	if err == nil {
		return ""
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) || errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var prov *ProvisioningError
	if errors.As(err, &prov) {
		return FailureProvisioning
	}
	var transient *TransientApplyError
	if errors.As(err, &transient) {
		return FailureTransient
	}
	return FailureUnknown
}
