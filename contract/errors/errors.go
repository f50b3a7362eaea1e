package errors

import "fmt"

// Error codes shared by the container, branch host, bus and adapters. Keep stable; callers match on them.
const (
	ErrCodeDuplicateBranchName    = "branch.duplicate_name"
	ErrCodeOverlappingPath        = "branch.overlapping_path"
	ErrCodeInvalidBranch          = "branch.invalid"
	ErrCodeRegistryClosed         = "branch.registry_closed"
	ErrCodeBranchUnavailable      = "branch.unavailable"
	ErrCodeBridgeSealed           = "branch.bridge_sealed"
	ErrCodeRoutingMiss            = "router.routing_miss"
	ErrCodeServiceNotRegistered   = "container.service_not_registered"
	ErrCodeUnregisteredSharedType = "container.unregistered_shared_type"
	ErrCodeRegisterDuplicate      = "container.register_duplicate"
	ErrCodeContainerSealed        = "container.sealed"
	ErrCodeInvalidConstructor     = "container.invalid_constructor"
	ErrCodeInvalidInterfaceType   = "container.invalid_interface_type"
	ErrCodeCircularDependency     = "container.circular_dependency"
	ErrCodeScopedOnRoot           = "container.scoped_on_root"
	ErrCodeScopeClosed            = "container.scope_closed"
	ErrCodeTypeMismatch           = "container.type_mismatch"
	ErrCodeHandlerExists          = "servicebus.handler_exists"
	ErrCodeHandlerTypeMismatch    = "servicebus.handler_type_mismatch"
	ErrCodeUnknownMessage         = "servicebus.unknown_message"
	ErrCodeConsumerPanicked       = "servicebus.consumer_panicked"
	ErrCodeBusSealed              = "servicebus.sealed"
	ErrCodeAsyncNotConfigured     = "servicebus.async_not_configured"
	ErrCodePublishFailed          = "servicebus.publish_failed"
	ErrCodeSubscribeFailed        = "servicebus.subscribe_failed"
	ErrCodeSerializationFailed    = "servicebus.serialization_failed"
	ErrCodeInvalidConfig          = "config.invalid"
	ErrCodeUnknownModule          = "config.unknown_module"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrDuplicateBranchName    = Code(ErrCodeDuplicateBranchName)
	ErrOverlappingPath        = Code(ErrCodeOverlappingPath)
	ErrInvalidBranch          = Code(ErrCodeInvalidBranch)
	ErrRegistryClosed         = Code(ErrCodeRegistryClosed)
	ErrBranchUnavailable      = Code(ErrCodeBranchUnavailable)
	ErrBridgeSealed           = Code(ErrCodeBridgeSealed)
	ErrRoutingMiss            = Code(ErrCodeRoutingMiss)
	ErrServiceNotRegistered   = Code(ErrCodeServiceNotRegistered)
	ErrUnregisteredSharedType = Code(ErrCodeUnregisteredSharedType)
	ErrRegisterDuplicate      = Code(ErrCodeRegisterDuplicate)
	ErrContainerSealed        = Code(ErrCodeContainerSealed)
	ErrInvalidConstructor     = Code(ErrCodeInvalidConstructor)
	ErrInvalidInterfaceType   = Code(ErrCodeInvalidInterfaceType)
	ErrCircularDependency     = Code(ErrCodeCircularDependency)
	ErrScopedOnRoot           = Code(ErrCodeScopedOnRoot)
	ErrScopeClosed            = Code(ErrCodeScopeClosed)
	ErrTypeMismatch           = Code(ErrCodeTypeMismatch)
	ErrHandlerExists          = Code(ErrCodeHandlerExists)
	ErrHandlerTypeMismatch    = Code(ErrCodeHandlerTypeMismatch)
	ErrUnknownMessage         = Code(ErrCodeUnknownMessage)
	ErrConsumerPanicked       = Code(ErrCodeConsumerPanicked)
	ErrBusSealed              = Code(ErrCodeBusSealed)
	ErrAsyncNotConfigured     = Code(ErrCodeAsyncNotConfigured)
	ErrPublishFailed          = Code(ErrCodePublishFailed)
	ErrSubscribeFailed        = Code(ErrCodeSubscribeFailed)
	ErrSerializationFailed    = Code(ErrCodeSerializationFailed)
	ErrInvalidConfig          = Code(ErrCodeInvalidConfig)
	ErrUnknownModule          = Code(ErrCodeUnknownModule)
)

// OpError attributes a failure to the branch and operation that produced it.
// It unwraps to the underlying (usually coded) error so errors.Is keeps working.
type OpError struct {
	Op     string
	Branch string
	Err    error
}

// Op wraps err with its operation and branch. A nil err yields nil.
func Op(op, branch string, err error) error {
	if err == nil {
		return nil
	}

	return &OpError{Op: op, Branch: branch, Err: err}
}

func (e *OpError) Error() string {
	if e.Branch == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s [branch %s]: %v", e.Op, e.Branch, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
