// Package sdcmd implements the command set shared by SD memory cards and
// eMMC devices, as well as decoding of the registers and status words they
// return.
package sdcmd

import "strconv"

// Index is a command opcode. Application specific commands share the index
// space with regular commands and are only valid after [AppCmd].
type Index uint8

const (
	GoIdleState        Index = 0
	SendOpCond         Index = 1 // eMMC only
	AllSendCID         Index = 2
	SendRelativeAddr   Index = 3
	SwitchFunc         Index = 6 // SD: SWITCH_FUNC, eMMC: SWITCH
	SelectCard         Index = 7
	SendIfCond         Index = 8 // SD only
	SendExtCSD         Index = 8 // eMMC only
	SendCSD            Index = 9
	SendCID            Index = 10
	VoltageSwitch      Index = 11
	StopTransmission   Index = 12
	SendStatus         Index = 13
	SetBlocklen        Index = 16
	ReadSingleBlock    Index = 17
	ReadMultipleBlock  Index = 18
	SendTuningBlock    Index = 19 // SD
	SendTuningBlockMMC Index = 21 // eMMC HS200
	WriteBlock         Index = 24
	WriteMultipleBlock Index = 25
	AppCmd             Index = 55

	AppSetBusWidth Index = 6
	AppSendOpCond  Index = 41
)

func (i Index) String() string {
	return "CMD" + strconv.Itoa(int(i))
}

// Response describes the format of a command's response.
type Response uint8

const (
	RespNone Response = iota
	RespR1
	RespR1b // R1 with busy signalling on DAT0
	RespR2  // 136 bit CID or CSD
	RespR3  // OCR, without CRC and index
	RespR6  // published RCA
	RespR7  // card interface condition
)

var respNames = [...]string{"none", "R1", "R1b", "R2", "R3", "R6", "R7"}

func (r Response) String() string {
	if int(r) < len(respNames) {
		return respNames[r]
	}
	return "R?"
}

// Long reports whether the response is 136 bits.
func (r Response) Long() bool { return r == RespR2 }

// Busy reports whether the card signals busy after the response.
func (r Response) Busy() bool { return r == RespR1b }

// HasCRC reports whether the response carries a valid CRC7.
func (r Response) HasCRC() bool {
	switch r {
	case RespR1, RespR1b, RespR2, RespR6, RespR7:
		return true
	}
	return false
}

// HasIndex reports whether the response echoes the command index.
func (r Response) HasIndex() bool {
	switch r {
	case RespR1, RespR1b, RespR6, RespR7:
		return true
	}
	return false
}

// Arguments
const (
	// IfCondArg selects 2.7-3.6V with check pattern 0xaa.
	IfCondArg     = 0x1aa
	IfCondPattern = 0xfff

	BusWidth1Arg = 0
	BusWidth4Arg = 2

	BlockSize = 512
)
