package jkbms

// EncodeFrame 将 TelemetryRecord 编码为 300 字节的单体数据帧 (类型 0x02)。
// 派生字段 (最高/最低单体电压, 功率) 不写入报文。
func EncodeFrame(rec *TelemetryRecord) []byte {
	// Structure: [Start 4][Type 1][Counter 1][Fields ...][zero padding]
	buf := newFrame(FrameTypeCellInfo)

	for i, c := range rec.Cells {
		// Write only fails on out-of-range offsets, which the table rules out
		_ = FieldCellVoltage.Cell(i).Write(buf, c.Voltage)
		_ = FieldCellResistance.Cell(i).Write(buf, c.InternalResistance)
	}

	_ = FieldAverageCellVoltage.Write(buf, rec.AverageCellVoltage)
	_ = FieldDeltaCellVoltage.Write(buf, rec.DeltaCellVoltage)
	_ = FieldTotalVoltage.Write(buf, rec.TotalVoltage)
	_ = FieldCurrent.Write(buf, rec.Current)
	_ = FieldT1.Write(buf, rec.T1)
	_ = FieldT2.Write(buf, rec.T2)
	_ = FieldMOSTemperature.Write(buf, rec.MOSTemperature)
	_ = FieldAlarmCode.Write(buf, float32(rec.Alarm.Code))
	_ = FieldBalancingCurrent.Write(buf, rec.BalancingCurrent)

	return buf
}

// newFrame allocates a zeroed frame carrying the start sentinel and type byte.
func newFrame(t FrameType) []byte {
	buf := make([]byte, FrameSize)
	copy(buf, FrameStartSentinel)
	buf[frameTypeIndex] = byte(t)
	return buf
}

// SplitFrame cuts a frame into notification-sized fragments, the way the
// unit delivers it over BLE. chunk <= 0 returns the frame as one fragment.
func SplitFrame(frame []byte, chunk int) [][]byte {
	if chunk <= 0 || chunk >= len(frame) {
		return [][]byte{frame}
	}
	out := make([][]byte, 0, (len(frame)+chunk-1)/chunk)
	for start := 0; start < len(frame); start += chunk {
		end := start + chunk
		if end > len(frame) {
			end = len(frame)
		}
		out = append(out, frame[start:end])
	}
	return out
}
