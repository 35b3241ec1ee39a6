package jkbms

// AlarmCondition 系统报警 (原始码 + 描述)
type AlarmCondition struct {
	Code  uint16 `json:"code"`
	Label string `json:"label"`
}

// UnknownAlarmLabel 未收录报警码的描述, 原始码仍保留
const UnknownAlarmLabel = "Unknown alarm code"

var alarmLabels = map[uint16]string{
	0:    "No alarm",
	1:    "Charge overtemperature",
	2:    "Charge undertemperature",
	8:    "Cell Undervoltage",
	1024: "Cell count is not equal to settings",
	1032: "Cell Undervoltage+",
	2048: "Current sensor anomaly",
	4096: "Cell Over Voltage",
	5120: "Cell Over Voltage+",
}

// ResolveAlarm maps a raw alarm code to its condition. It never fails.
func ResolveAlarm(code uint16) AlarmCondition {
	label, ok := alarmLabels[code]
	if !ok {
		label = UnknownAlarmLabel
	}
	return AlarmCondition{Code: code, Label: label}
}

// Known reports whether the code is in the alarm table.
func (a AlarmCondition) Known() bool {
	_, ok := alarmLabels[a.Code]
	return ok
}

func (a AlarmCondition) Active() bool {
	return a.Code != 0
}
