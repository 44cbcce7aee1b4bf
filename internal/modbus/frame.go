package modbus

import (
	"encoding/binary"
	"fmt"
)

// MBAP Header (7 Bytes) + Function Code + Data
type ModbusFrame struct {
	TransactionID uint16 // 2 Bytes - Request/Response Korrelation
	ProtocolID    uint16 // 2 Bytes - Immer 0x0000 für Modbus
	Length        uint16 // 2 Bytes - Anzahl folgender Bytes
	UnitID        uint8  // 1 Byte - Slave Address
	FunctionCode  uint8  // 1 Byte - Modbus Function
	Data          []byte // Variable Länge
}

// Modbus Function Codes
const (
	FuncCodeReadCoils              = 0x01
	FuncCodeReadDiscreteInputs     = 0x02
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10

	exceptionFlag = 0x80

	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000

	mbapHeaderLen = 7
	maxFrameLen   = 260
)

// ExceptionError is returned when the device answers with an exception.
type ExceptionError struct {
	FunctionCode uint8
	Code         uint8
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception 0x%02X on function 0x%02X", e.Code, e.FunctionCode)
}

// Encode erstellt das komplette TCP Frame
func (f *ModbusFrame) Encode() []byte {
	f.Length = uint16(len(f.Data) + 2) // +2 für UnitID + FunctionCode

	frame := make([]byte, mbapHeaderLen+len(f.Data)+1) // MBAP(7) + FuncCode(1) + Data

	// MBAP Header
	binary.BigEndian.PutUint16(frame[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(frame[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], f.Length)
	frame[6] = f.UnitID

	// PDU
	frame[7] = f.FunctionCode
	copy(frame[8:], f.Data)

	return frame
}

// DecodeFrame parst ein empfangenes Frame
func DecodeFrame(data []byte) (*ModbusFrame, error) {
	if len(data) < mbapHeaderLen+1 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	frame := &ModbusFrame{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        data[6],
		FunctionCode:  data[7],
	}

	if frame.ProtocolID != 0x0000 {
		return nil, fmt.Errorf("invalid protocol ID: 0x%04X", frame.ProtocolID)
	}

	if len(data) > mbapHeaderLen+1 {
		frame.Data = data[mbapHeaderLen+1:]
	}

	return frame, nil
}

// Exception liefert den Exception-Fehler, falls die Antwort einer ist
func (f *ModbusFrame) Exception() error {
	if f.FunctionCode&exceptionFlag == 0 {
		return nil
	}
	code := uint8(0)
	if len(f.Data) > 0 {
		code = f.Data[0]
	}
	return &ExceptionError{FunctionCode: f.FunctionCode &^ exceptionFlag, Code: code}
}

func addressRequest(unitID uint8, functionCode uint8, addr uint16, value uint16) *ModbusFrame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], value)

	return &ModbusFrame{
		ProtocolID:   0x0000,
		UnitID:       unitID,
		FunctionCode: functionCode,
		Data:         data,
	}
}

// ReadHoldingRegistersRequest erstellt Request für Function Code 0x03
func ReadHoldingRegistersRequest(unitID uint8, startAddr uint16, quantity uint16) *ModbusFrame {
	return addressRequest(unitID, FuncCodeReadHoldingRegisters, startAddr, quantity)
}

// WriteSingleRegisterRequest erstellt Request für Function Code 0x06
func WriteSingleRegisterRequest(unitID uint8, addr uint16, value uint16) *ModbusFrame {
	return addressRequest(unitID, FuncCodeWriteSingleRegister, addr, value)
}

// ReadCoilsRequest erstellt Request für Function Code 0x01
func ReadCoilsRequest(unitID uint8, startAddr uint16, quantity uint16) *ModbusFrame {
	return addressRequest(unitID, FuncCodeReadCoils, startAddr, quantity)
}

// WriteSingleCoilRequest erstellt Request für Function Code 0x05
func WriteSingleCoilRequest(unitID uint8, addr uint16, on bool) *ModbusFrame {
	value := coilOff
	if on {
		value = coilOn
	}
	return addressRequest(unitID, FuncCodeWriteSingleCoil, addr, value)
}

// ParseRegisterResponse parst Holding/Input Register Response
func (f *ModbusFrame) ParseRegisterResponse() ([]uint16, error) {
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("response too short")
	}

	byteCount := f.Data[0]
	if len(f.Data) < int(byteCount)+1 {
		return nil, fmt.Errorf("incomplete response data")
	}

	registerCount := byteCount / 2
	registers := make([]uint16, registerCount)

	for i := 0; i < int(registerCount); i++ {
		offset := 1 + (i * 2)
		registers[i] = binary.BigEndian.Uint16(f.Data[offset : offset+2])
	}

	return registers, nil
}

// ParseCoilResponse parst die Bits einer Read Coils Response
func (f *ModbusFrame) ParseCoilResponse(quantity uint16) ([]bool, error) {
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("response too short")
	}

	byteCount := int(f.Data[0])
	if len(f.Data) < byteCount+1 || byteCount*8 < int(quantity) {
		return nil, fmt.Errorf("incomplete response data")
	}

	coils := make([]bool, quantity)
	for i := range coils {
		coils[i] = f.Data[1+i/8]&(1<<(uint(i)%8)) != 0
	}
	return coils, nil
}
