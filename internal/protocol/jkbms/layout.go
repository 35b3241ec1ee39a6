package jkbms

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrFieldOutOfRange 字段超出缓冲区范围 (不会 panic)
var ErrFieldOutOfRange = errors.New("jkbms: field out of range")

// Field describes one little-endian value of the cell-info frame.
type Field struct {
	Name   string
	Offset int     // 绝对偏移 (从帧首字节起)
	Width  int     // 2 或 4 字节
	Signed bool    // 补码
	Scale  float32 // 物理量 = 原始值 * Scale
}

// 单体数据块步长
const cellStride = 2

// 单体电压/内阻的基准字段; 第 i 个单体为 Offset + i*cellStride.
// 电压块以 H 为基准, 内阻块位于帧后半部分, 以 2H 为基准.
var (
	FieldCellVoltage    = Field{Name: "cell_voltage", Offset: HeaderSize + 6, Width: 2, Scale: 0.001}
	FieldCellResistance = Field{Name: "cell_resistance", Offset: 2*HeaderSize + 64, Width: 2, Scale: 0.001}
)

// 标量字段: H+58, H+60, 2H+118, 2H+126, 2H+130..2H+138
var (
	FieldAverageCellVoltage = Field{Name: "average_cell_voltage", Offset: HeaderSize + 58, Width: 2, Scale: 0.001}
	FieldDeltaCellVoltage   = Field{Name: "delta_cell_voltage", Offset: HeaderSize + 60, Width: 2, Scale: 0.001}
	FieldTotalVoltage       = Field{Name: "total_voltage", Offset: 2*HeaderSize + 118, Width: 4, Scale: 0.001}
	FieldCurrent            = Field{Name: "current", Offset: 2*HeaderSize + 126, Width: 4, Scale: 0.001}
	FieldT1                 = Field{Name: "t1", Offset: 2*HeaderSize + 130, Width: 2, Signed: true, Scale: 0.1}
	FieldT2                 = Field{Name: "t2", Offset: 2*HeaderSize + 132, Width: 2, Signed: true, Scale: 0.1}
	FieldMOSTemperature     = Field{Name: "mos_temperature", Offset: 2*HeaderSize + 134, Width: 2, Signed: true, Scale: 0.1}
	FieldAlarmCode          = Field{Name: "alarm_code", Offset: 2*HeaderSize + 136, Width: 2, Scale: 1}
	FieldBalancingCurrent   = Field{Name: "balancing_current", Offset: 2*HeaderSize + 138, Width: 2, Signed: true, Scale: 0.001}
)

// CellInfoLayout lists every field of a cell-info frame. The two cell blocks
// appear once each as CellCount-long runs.
var CellInfoLayout = []Field{
	FieldCellVoltage,
	FieldAverageCellVoltage,
	FieldDeltaCellVoltage,
	FieldCellResistance,
	FieldTotalVoltage,
	FieldCurrent,
	FieldT1,
	FieldT2,
	FieldMOSTemperature,
	FieldAlarmCode,
	FieldBalancingCurrent,
}

// Cell returns the field for cell i of a per-cell block.
func (f Field) Cell(i int) Field {
	f.Offset += i * cellStride
	return f
}

// Span is the number of bytes the field occupies, counting the whole run for
// per-cell blocks.
func (f Field) Span() int {
	if f == FieldCellVoltage || f == FieldCellResistance {
		return CellCount * cellStride
	}
	return f.Width
}

// Raw reads the integer value of the field, sign-extended when Signed.
func (f Field) Raw(buf []byte) (int64, error) {
	if f.Offset < 0 || f.Offset+f.Width > len(buf) {
		return 0, fmt.Errorf("%w: %s at %d+%d, buffer %d", ErrFieldOutOfRange, f.Name, f.Offset, f.Width, len(buf))
	}
	b := buf[f.Offset : f.Offset+f.Width]
	switch f.Width {
	case 2:
		v := binary.LittleEndian.Uint16(b)
		if f.Signed {
			return int64(int16(v)), nil
		}
		return int64(v), nil
	case 4:
		v := binary.LittleEndian.Uint32(b)
		if f.Signed {
			return int64(int32(v)), nil
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("jkbms: field %s has unsupported width %d", f.Name, f.Width)
	}
}

// Read returns the scaled physical value.
func (f Field) Read(buf []byte) (float32, error) {
	raw, err := f.Raw(buf)
	if err != nil {
		return 0, err
	}
	return float32(raw) * f.Scale, nil
}

// Write stores v (in physical units) into buf, rounding to the nearest raw
// step and clamping to the field's integer range.
func (f Field) Write(buf []byte, v float32) error {
	if f.Offset < 0 || f.Offset+f.Width > len(buf) {
		return fmt.Errorf("%w: %s at %d+%d, buffer %d", ErrFieldOutOfRange, f.Name, f.Offset, f.Width, len(buf))
	}
	raw := math.Round(float64(v) / float64(f.Scale))
	b := buf[f.Offset : f.Offset+f.Width]
	switch f.Width {
	case 2:
		if f.Signed {
			binary.LittleEndian.PutUint16(b, uint16(int16(clamp(raw, math.MinInt16, math.MaxInt16))))
		} else {
			binary.LittleEndian.PutUint16(b, uint16(clamp(raw, 0, math.MaxUint16)))
		}
	case 4:
		if f.Signed {
			binary.LittleEndian.PutUint32(b, uint32(int32(clamp(raw, math.MinInt32, math.MaxInt32))))
		} else {
			binary.LittleEndian.PutUint32(b, uint32(clamp(raw, 0, math.MaxUint32)))
		}
	default:
		return fmt.Errorf("jkbms: field %s has unsupported width %d", f.Name, f.Width)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
