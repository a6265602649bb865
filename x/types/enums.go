package types

// TriggerSource identifies where a batch's trigger evaluation reads from.
type TriggerSource uint8

const (
	TriggerSourceUnspecified TriggerSource = iota
	TriggerSourceCondition
	TriggerSourceLogEvent
)

func (t TriggerSource) Valid() bool {
	return t == TriggerSourceCondition || t == TriggerSourceLogEvent
}

func (t TriggerSource) String() string {
	switch t {
	case TriggerSourceCondition:
		return "condition"
	case TriggerSourceLogEvent:
		return "log-event"
	default:
		return "unspecified"
	}
}

// MergePolicy controls how off-chain supplied data is merged into an item's check payload.
type MergePolicy uint8

const (
	MergePolicyUnspecified MergePolicy = iota
	MergePolicyNone
	MergePolicyPrepend
	MergePolicyAppend
	MergePolicyReplace
)

func (m MergePolicy) Valid() bool {
	return m >= MergePolicyNone && m <= MergePolicyReplace
}

func (m MergePolicy) String() string {
	switch m {
	case MergePolicyNone:
		return "none"
	case MergePolicyPrepend:
		return "prepend"
	case MergePolicyAppend:
		return "append"
	case MergePolicyReplace:
		return "replace"
	default:
		return "unspecified"
	}
}

// ResultPolicy controls how a check call's raw result is interpreted.
type ResultPolicy uint8

const (
	ResultPolicyUnspecified ResultPolicy = iota
	// ResultPolicyAssumeSuccess treats any successful call as "needs execution".
	ResultPolicyAssumeSuccess
	// ResultPolicyAssumeFailure treats any failed call as "needs execution".
	ResultPolicyAssumeFailure
	// ResultPolicyDecodeBool ABI-decodes the first word as a boolean.
	ResultPolicyDecodeBool
	// ResultPolicyCompare decodes a uint256 and evaluates the item's condition expression.
	ResultPolicyCompare
)

func (p ResultPolicy) Valid() bool {
	return p >= ResultPolicyAssumeSuccess && p <= ResultPolicyCompare
}

func (p ResultPolicy) String() string {
	switch p {
	case ResultPolicyAssumeSuccess:
		return "assume-success"
	case ResultPolicyAssumeFailure:
		return "assume-failure"
	case ResultPolicyDecodeBool:
		return "decode-bool"
	case ResultPolicyCompare:
		return "compare"
	default:
		return "unspecified"
	}
}

// PayloadPolicy controls how an item's outbound execution payload is derived
// once the check phase marks it as needing execution.
type PayloadPolicy uint8

const (
	PayloadPolicyUnspecified PayloadPolicy = iota
	PayloadPolicyNone
	PayloadPolicyCheckResult
	PayloadPolicyExecData
	PayloadPolicyTriggerData
	PayloadPolicyRawCheckBytes
	PayloadPolicyDecodedForward
)

func (p PayloadPolicy) Valid() bool {
	return p >= PayloadPolicyNone && p <= PayloadPolicyDecodedForward
}

func (p PayloadPolicy) String() string {
	switch p {
	case PayloadPolicyNone:
		return "none"
	case PayloadPolicyCheckResult:
		return "check-result"
	case PayloadPolicyExecData:
		return "exec-data"
	case PayloadPolicyTriggerData:
		return "trigger-data"
	case PayloadPolicyRawCheckBytes:
		return "raw-check-bytes"
	case PayloadPolicyDecodedForward:
		return "decoded-forward"
	default:
		return "unspecified"
	}
}

// CompareOp is the operator of an item's condition expression.
type CompareOp uint8

const (
	CompareOpUnspecified CompareOp = iota
	CompareOpEq
	CompareOpNe
	CompareOpLt
	CompareOpLe
	CompareOpGt
	CompareOpGe
	// CompareOpBetween is inclusive on both bounds and uses both operands.
	CompareOpBetween
)

func (o CompareOp) Valid() bool {
	return o >= CompareOpEq && o <= CompareOpBetween
}

func (o CompareOp) String() string {
	switch o {
	case CompareOpEq:
		return "eq"
	case CompareOpNe:
		return "ne"
	case CompareOpLt:
		return "lt"
	case CompareOpLe:
		return "le"
	case CompareOpGt:
		return "gt"
	case CompareOpGe:
		return "ge"
	case CompareOpBetween:
		return "between"
	default:
		return "unspecified"
	}
}

// PoolStatus is the derived lifecycle status of a pool instance.
// It is always recomputed from billing state and the current time, never
// read back as a raw stored value.
type PoolStatus uint8

const (
	PoolStatusOpen PoolStatus = iota
	PoolStatusNotice
	PoolStatusClosing
	PoolStatusClosed
)

func (s PoolStatus) String() string {
	switch s {
	case PoolStatusOpen:
		return "open"
	case PoolStatusNotice:
		return "notice"
	case PoolStatusClosing:
		return "closing"
	case PoolStatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}
