package contracts

// ViolationCode names a terminal isolation-boundary crossing raised by the
// sandbox executor. These are the raw signals the failure classifier (C3)
// maps to a FailureClass.
type ViolationCode string

const (
	NetworkAccessViolation   ViolationCode = "NetworkAccessViolation"
	FilesystemWriteViolation ViolationCode = "FilesystemWriteViolation"
	SyscallViolation         ViolationCode = "SyscallViolation"
	ProcessLimitViolation    ViolationCode = "ProcessLimitViolation"
	MemoryLimitViolation     ViolationCode = "MemoryLimitViolation"
	OutputLimitViolation     ViolationCode = "OutputLimitViolation"
	TimeoutViolation         ViolationCode = "TimeoutViolation"
)
