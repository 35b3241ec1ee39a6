package zabbix

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"jkbms-gateway/internal/config"
	"jkbms-gateway/internal/infra/mq"
)

// Zabbix sender 协议: [ZBXD][0x01][数据长度 u64 小端][JSON]
var header = []byte("ZBXD\x01")

const (
	headerLength = 5 + 8
	// maxResponse 服务端应答上限
	maxResponse = 64 * 1024
)

var (
	// ErrBadResponse 应答不是合法的 Zabbix 报文
	ErrBadResponse = errors.New("zabbix: malformed response")
	failedRe       = regexp.MustCompile(`failed: (\d+)`)
)

type item struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
	Clock int64  `json:"clock,omitempty"`
}

type request struct {
	Request string `json:"request"`
	Data    []item `json:"data"`
	Clock   int64  `json:"clock,omitempty"`
}

type response struct {
	Response string `json:"response"`
	Info     string `json:"info"`
}

// Sender pushes JSON values to a Zabbix trapper item. Every Produce opens a
// new connection, as the sender protocol expects.
type Sender struct {
	addr    string
	host    string
	item    string
	timeout time.Duration
	logger  *zap.Logger
}

var _ mq.Producer = (*Sender)(nil)

func NewSender(cfg config.ZabbixConfig, logger *zap.Logger) *Sender {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		addr:    net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		host:    cfg.Host,
		item:    cfg.Item,
		timeout: timeout,
		logger:  logger,
	}
}

// encodePacket 将请求编码为带 ZBXD 头的报文
func encodePacket(req request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, headerLength, headerLength+len(body))
	copy(buf, header)
	binary.LittleEndian.PutUint64(buf[5:headerLength], uint64(len(body)))
	return append(buf, body...), nil
}

// readResponse 读取并解析服务端应答
func readResponse(r io.Reader) (*response, error) {
	hdr := make([]byte, headerLength)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("read response header: %w", err)
	}
	if !bytes.Equal(hdr[:5], header) {
		return nil, fmt.Errorf("%w: header %q", ErrBadResponse, hdr[:5])
	}
	n := binary.LittleEndian.Uint64(hdr[5:])
	if n > maxResponse {
		return nil, fmt.Errorf("%w: length %d", ErrBadResponse, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return &resp, nil
}

func (r *response) check() error {
	if r.Response != "success" {
		return fmt.Errorf("zabbix: server responded %q: %s", r.Response, r.Info)
	}
	if m := failedRe.FindStringSubmatch(r.Info); m != nil && m[1] != "0" {
		return fmt.Errorf("zabbix: item rejected: %s", r.Info)
	}
	return nil
}

// Produce sends data as the JSON value of the configured item. topic and key
// are not used; the envelope itself names the device.
func (s *Sender) Produce(ctx context.Context, topic string, key string, data interface{}) error {
	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	now := time.Now().Unix()
	packet, err := encodePacket(request{
		Request: "sender data",
		Data:    []item{{Host: s.host, Key: s.item, Value: string(value), Clock: now}},
		Clock:   now,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("zabbix: dial %s: %w", s.addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("zabbix: write: %w", err)
	}
	resp, err := readResponse(conn)
	if err != nil {
		return err
	}
	if err := resp.check(); err != nil {
		return err
	}

	s.logger.Debug("Sent value to Zabbix",
		zap.String("host", s.host),
		zap.String("item", s.item),
		zap.String("device", key),
		zap.String("info", resp.Info))
	return nil
}

func (s *Sender) Close() {}
