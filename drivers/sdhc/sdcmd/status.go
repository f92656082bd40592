package sdcmd

// CardStatus is the R1 response payload.
type CardStatus uint32

const (
	StatusOutOfRange     CardStatus = 1 << 31
	StatusAddressError   CardStatus = 1 << 30
	StatusBlockLenError  CardStatus = 1 << 29
	StatusEraseSeqError  CardStatus = 1 << 28
	StatusEraseParam     CardStatus = 1 << 27
	StatusWPViolation    CardStatus = 1 << 26
	StatusCardLocked     CardStatus = 1 << 25
	StatusLockUnlockFail CardStatus = 1 << 24
	StatusComCRCError    CardStatus = 1 << 23
	StatusIllegalCommand CardStatus = 1 << 22
	StatusCardECCFailed  CardStatus = 1 << 21
	StatusCCError        CardStatus = 1 << 20
	StatusError          CardStatus = 1 << 19
	StatusCSDOverwrite   CardStatus = 1 << 16
	StatusWPEraseSkip    CardStatus = 1 << 15
	StatusEraseReset     CardStatus = 1 << 13
	StatusReadyForData   CardStatus = 1 << 8
	StatusSwitchError    CardStatus = 1 << 7 // eMMC
	StatusAppCmd         CardStatus = 1 << 5
	StatusAKESeqError    CardStatus = 1 << 3
	stateShift                      = 9
	stateMask            CardStatus = 0xf << stateShift

	StatusErrorMask CardStatus = 0xfdf98008
)

// State is the card state reported in [CardStatus].
type State uint8

const (
	StateIdle State = iota
	StateReady
	StateIdent
	StateStandby
	StateTransfer
	StateData
	StateReceive
	StateProgram
	StateDisconnect
)

var stateNames = [...]string{"idle", "ready", "ident", "stby", "tran", "data", "rcv", "prg", "dis"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "reserved"
}

func (s CardStatus) State() State { return State((s & stateMask) >> stateShift) }

// WithState returns s with the current state field replaced.
func (s CardStatus) WithState(st State) CardStatus {
	return s&^stateMask | CardStatus(st)<<stateShift
}

// Err returns the error bits of s.
func (s CardStatus) Err() CardStatus { return s & StatusErrorMask }

// OCR is the operation conditions register, as returned by ACMD41 and CMD1.
type OCR uint32

const (
	OCRVoltageWindow OCR = 0x00ff8000 // 2.7-3.6V
	OCRLowVoltage    OCR = 1 << 7     // eMMC 1.70-1.95V
	OCRS18           OCR = 1 << 24    // S18R in request, S18A in response
	OCRXPC           OCR = 1 << 28
	OCRCCS           OCR = 1 << 30 // HCS in request
	OCRPowerUp       OCR = 1 << 31 // cleared while busy

	// eMMC access mode, shares the bit position with CCS.
	OCRSectorMode = OCRCCS
)

func (o OCR) Ready() bool        { return o&OCRPowerUp != 0 }
func (o OCR) HighCapacity() bool { return o&OCRCCS != 0 }
func (o OCR) Accepts18V() bool   { return o&OCRS18 != 0 }
