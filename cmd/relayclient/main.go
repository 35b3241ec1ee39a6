package main

import (
	"bufio"
	"flag"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"jkbms-gateway/internal/client"
	"jkbms-gateway/internal/protocol/jkbms"
)

// 模拟一个 BLE 中继: 连接网关, 回显收到的命令, 随后按间隔推送遥测帧
func main() {
	addr := flag.String("addr", "127.0.0.1:7300", "gateway relay address")
	device := flag.String("device", "C8:47:8C:E4:54:0D", "simulated BMS MAC address")
	count := flag.Int("count", 10, "number of telemetry frames to send")
	interval := flag.Duration("interval", time.Second, "delay between frames")
	mtu := flag.Int("mtu", client.DefaultMTU, "bytes per BLE notification")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		logger.Error("连接网关失败", zap.String("addr", *addr), zap.Error(err))
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("已连接到网关", zap.String("addr", *addr))

	builder := client.NewRelayBuilder(*device, *mtu)

	if _, err := conn.Write(builder.BuildHello()); err != nil {
		logger.Fatal("发送 Hello 失败", zap.Error(err))
	}

	// 网关依次下发 GET_DEVICE_INFO 和 GET_CELL_INFO
	sc := bufio.NewScanner(conn)
	sc.Split(jkbms.NewRelayScanner(jkbms.DefaultMaxRelayRecord).SplitFunc)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 2; i++ {
		if !sc.Scan() {
			logger.Fatal("等待命令失败", zap.Error(sc.Err()))
		}
		rec, err := jkbms.ParseRelayRecord(sc.Bytes())
		if err != nil || rec.Type != jkbms.RelayCommand {
			logger.Fatal("收到非命令报文", zap.Error(err))
		}
		logger.Info("<< 命令", zap.Binary("payload", rec.Payload))

		reply := builder.BuildAck(rec.Payload)
		if i == 0 {
			reply = append(reply, builder.BuildDeviceInfo(&jkbms.DeviceInfo{
				VendorID:        "JK_B2A24S15P",
				HardwareVersion: "11.XW",
				SoftwareVersion: "11.26",
				UptimeSeconds:   86400,
				PowerOnCount:    3,
				DeviceName:      "JK-B2A24S",
			})...)
		}
		if _, err := conn.Write(reply); err != nil {
			logger.Fatal("发送回显失败", zap.Error(err))
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	for i := 0; i < *count; i++ {
		rec := client.SampleRecord(i)
		logger.Info(">> 发送遥测帧",
			zap.Int("seq", i+1),
			zap.Float32("total_voltage", rec.TotalVoltage),
			zap.Float32("current", rec.Current))
		if _, err := conn.Write(builder.BuildTelemetry(rec)); err != nil {
			logger.Fatal("发送遥测失败", zap.Error(err))
		}
		time.Sleep(*interval)
	}

	logger.Info("测试完成，关闭连接")
}
