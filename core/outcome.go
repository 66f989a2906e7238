package core

import "fmt"

// OutcomeSlot is the fixed enum every transaction and diagnostics counter
// terminates in. See spec §7.
type OutcomeSlot uint8

const (
	OutcomeOk OutcomeSlot = iota
	OutcomeInvalidArgument
	OutcomeTimeout
	OutcomeCrc
	OutcomeChecksum
	OutcomeMalformedFrame
	OutcomeDecodingError
	OutcomeIllegalFunction
	OutcomeIllegalDataAddress
	OutcomeIllegalDataValue
	OutcomeServerDeviceFailure
	OutcomeServerDeviceBusy
	OutcomeBusy
	OutcomeCancelled
	OutcomeAborted
	OutcomeIoError
	OutcomeUnsupported

	numOutcomes // sentinel: keep last
)

// NumOutcomes is the number of distinct outcome slots, for fixed-size
// counter arrays.
const NumOutcomes = int(numOutcomes)

func (o OutcomeSlot) String() string {
	switch o {
	case OutcomeOk:
		return "Ok"
	case OutcomeInvalidArgument:
		return "InvalidArgument"
	case OutcomeTimeout:
		return "Timeout"
	case OutcomeCrc:
		return "Crc"
	case OutcomeChecksum:
		return "Checksum"
	case OutcomeMalformedFrame:
		return "MalformedFrame"
	case OutcomeDecodingError:
		return "DecodingError"
	case OutcomeIllegalFunction:
		return "IllegalFunction"
	case OutcomeIllegalDataAddress:
		return "IllegalDataAddress"
	case OutcomeIllegalDataValue:
		return "IllegalDataValue"
	case OutcomeServerDeviceFailure:
		return "ServerDeviceFailure"
	case OutcomeServerDeviceBusy:
		return "ServerDeviceBusy"
	case OutcomeBusy:
		return "Busy"
	case OutcomeCancelled:
		return "Cancelled"
	case OutcomeAborted:
		return "Aborted"
	case OutcomeIoError:
		return "IoError"
	case OutcomeUnsupported:
		return "Unsupported"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(o))
	}
}

// ExceptionToOutcome maps a peer exception code onto its outcome slot.
func ExceptionToOutcome(ec ExceptionCode) OutcomeSlot {
	switch ec {
	case ExcIllegalFunction:
		return OutcomeIllegalFunction
	case ExcIllegalDataAddress:
		return OutcomeIllegalDataAddress
	case ExcIllegalDataValue:
		return OutcomeIllegalDataValue
	case ExcServerDeviceBusy:
		return OutcomeServerDeviceBusy
	default:
		return OutcomeServerDeviceFailure
	}
}

// OutcomeToException is ExceptionToOutcome's inverse, used by the server
// FSM to pick the wire exception code for a local register-map failure
// (spec §4.5's exception policy).
func OutcomeToException(o OutcomeSlot) ExceptionCode {
	switch o {
	case OutcomeIllegalFunction:
		return ExcIllegalFunction
	case OutcomeIllegalDataAddress:
		return ExcIllegalDataAddress
	case OutcomeIllegalDataValue:
		return ExcIllegalDataValue
	case OutcomeServerDeviceBusy, OutcomeBusy:
		return ExcServerDeviceBusy
	default:
		return ExcServerDeviceFailure
	}
}
