package jkbms

import (
	"fmt"
)

// Cell 单体电池
type Cell struct {
	Voltage            float32 `json:"voltage"`             // V, 精度0.001
	InternalResistance float32 `json:"internal_resistance"` // Ω, 精度0.001
}

// TelemetryRecord 电池包实时数据 (帧类型 0x02)
type TelemetryRecord struct {
	Cells              [CellCount]Cell `json:"cells"`
	MaxCellVoltage     float32         `json:"max_cell_voltage"`
	MinCellVoltage     float32         `json:"min_cell_voltage"` // 仅统计电压 > 0 的单体
	AverageCellVoltage float32         `json:"average_cell_voltage"`
	DeltaCellVoltage   float32         `json:"delta_cell_voltage"`
	TotalVoltage       float32         `json:"total_voltage"`
	Current            float32         `json:"current"`
	BalancingCurrent   float32         `json:"balancing_current"` // 正: 充电方向, 负: 放电方向
	Power              float32         `json:"power"`             // TotalVoltage * Current, 不从报文读取
	T1                 float32         `json:"t1"`                // ℃, 精度0.1
	T2                 float32         `json:"t2"`
	MOSTemperature     float32         `json:"mos_temperature"`
	Alarm              AlarmCondition  `json:"alarm"`
}

// FrameLengthError 解码前帧长度不等于 FrameSize
type FrameLengthError struct {
	Length int
}

func (e *FrameLengthError) Error() string {
	return fmt.Sprintf("jkbms: frame length %d, want %d", e.Length, FrameSize)
}

// Decode parses one complete cell-info frame. Only buffers of exactly
// FrameSize bytes are accepted; no read goes past the buffer.
func Decode(frame []byte) (*TelemetryRecord, error) {
	if len(frame) != FrameSize {
		return nil, &FrameLengthError{Length: len(frame)}
	}

	rec := &TelemetryRecord{}
	var (
		maxV    float32
		minV    float32
		haveMin bool
	)
	for i := 0; i < CellCount; i++ {
		v, err := FieldCellVoltage.Cell(i).Read(frame)
		if err != nil {
			return nil, fmt.Errorf("cell %d voltage: %w", i, err)
		}
		r, err := FieldCellResistance.Cell(i).Read(frame)
		if err != nil {
			return nil, fmt.Errorf("cell %d resistance: %w", i, err)
		}
		rec.Cells[i] = Cell{Voltage: v, InternalResistance: r}

		if i == 0 || v > maxV {
			maxV = v
		}
		// 未上报的单体 (0V) 不参与最低值统计
		if v > 0 && (!haveMin || v < minV) {
			minV = v
			haveMin = true
		}
	}
	rec.MaxCellVoltage = maxV
	rec.MinCellVoltage = minV

	scalars := []struct {
		field Field
		dst   *float32
	}{
		{FieldAverageCellVoltage, &rec.AverageCellVoltage},
		{FieldDeltaCellVoltage, &rec.DeltaCellVoltage},
		{FieldTotalVoltage, &rec.TotalVoltage},
		{FieldCurrent, &rec.Current},
		{FieldT1, &rec.T1},
		{FieldT2, &rec.T2},
		{FieldMOSTemperature, &rec.MOSTemperature},
		{FieldBalancingCurrent, &rec.BalancingCurrent},
	}
	for _, s := range scalars {
		v, err := s.field.Read(frame)
		if err != nil {
			return nil, err
		}
		*s.dst = v
	}
	rec.Power = rec.TotalVoltage * rec.Current

	code, err := FieldAlarmCode.Raw(frame)
	if err != nil {
		return nil, err
	}
	rec.Alarm = ResolveAlarm(uint16(code))

	return rec, nil
}
