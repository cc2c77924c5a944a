package traffic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"
)

// TraCI协议常量（只包含协同仿真用到的部分）
const (
	cmdGetVersion = 0x00
	cmdSimStep    = 0x02
	cmdClose      = 0x7F

	cmdGetInductionLoopVariable      = 0xA0
	responseGetInductionLoopVariable = 0xB0
	cmdSetTrafficLightVariable       = 0xC2

	varLastStepVehicleNumber = 0x10
	varLastStepOccupancy     = 0x13
	varRedYellowGreenState   = 0x20

	typeInteger = 0x09
	typeDouble  = 0x0B
	typeString  = 0x0C

	rtypeOK             = 0x00
	rtypeNotImplemented = 0x01
	rtypeErr            = 0xFF

	// 单条消息长度上限
	maxMessageSize = 64 << 20
)

var (
	ErrConnClosed = errors.New("traci: connection closed")
)

// StatusError 仿真器返回的非OK状态
type StatusError struct {
	Command     byte
	Result      byte
	Description string
}

func (e *StatusError) Error() string {
	kind := "error"
	if e.Result == rtypeNotImplemented {
		kind = "not implemented"
	}
	return fmt.Sprintf("traci: command 0x%02x %s: %s", e.Command, kind, e.Description)
}

// Conn TraCI客户端连接
// 说明：TraCI是严格的请求-应答协议，所有请求串行执行
type Conn struct {
	mu     sync.Mutex
	c      net.Conn
	r      *bufio.Reader
	closed bool
}

// NewConn 在已建立的连接上创建TraCI客户端
func NewConn(c net.Conn) *Conn {
	return &Conn{c: c, r: bufio.NewReader(c)}
}

// Dial 连接TraCI服务端
// 功能：在timeout内按interval重试，直到仿真器开始监听
func Dial(ctx context.Context, addr string, timeout, interval time.Duration) (*Conn, error) {
	deadline := time.Now().Add(timeout)
	var d net.Dialer
	for {
		c, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			if tcp, ok := c.(*net.TCPConn); ok {
				_ = tcp.SetNoDelay(true)
			}
			return NewConn(c), nil
		}
		if time.Now().Add(interval).After(deadline) {
			return nil, fmt.Errorf("traci server `%v` did not become ready in %v: %w", addr, timeout, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Version 查询仿真器的API版本与标识
func (c *Conn) Version(ctx context.Context) (api int32, identifier string, err error) {
	body, err := c.call(ctx, cmdGetVersion, nil)
	if err != nil {
		return 0, "", err
	}
	id, payload, err := readCommand(body)
	if err != nil {
		return 0, "", err
	}
	if id != cmdGetVersion {
		return 0, "", fmt.Errorf("traci: unexpected response 0x%02x to getVersion", id)
	}
	if api, err = readInt(payload); err != nil {
		return 0, "", err
	}
	if identifier, err = readString(payload); err != nil {
		return 0, "", err
	}
	return api, identifier, nil
}

// SimStep 推进仿真到指定的仿真时间（秒）
func (c *Conn) SimStep(ctx context.Context, t float64) error {
	var b buffer
	b.double(t)
	body, err := c.call(ctx, cmdSimStep, b.Bytes())
	if err != nil {
		return err
	}
	// 不使用订阅，订阅结果数量之后的内容忽略
	if body.Len() > 0 {
		if _, err := readInt(body); err != nil {
			return err
		}
	}
	return nil
}

// GetInt 读取整型变量
func (c *Conn) GetInt(ctx context.Context, cmd, variable byte, objectID string) (int32, error) {
	payload, err := c.get(ctx, cmd, variable, objectID, typeInteger)
	if err != nil {
		return 0, err
	}
	return readInt(payload)
}

// GetDouble 读取浮点变量
func (c *Conn) GetDouble(ctx context.Context, cmd, variable byte, objectID string) (float64, error) {
	payload, err := c.get(ctx, cmd, variable, objectID, typeDouble)
	if err != nil {
		return 0, err
	}
	return readDouble(payload)
}

// SetString 设置字符串变量
func (c *Conn) SetString(ctx context.Context, cmd, variable byte, objectID, value string) error {
	var b buffer
	b.ubyte(variable)
	b.str(objectID)
	b.ubyte(typeString)
	b.str(value)
	_, err := c.call(ctx, cmd, b.Bytes())
	return err
}

// Close 通知仿真器结束并关闭连接
// 说明：可以重复调用
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.call(ctx, cmdClose, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return errors.Join(err, c.c.Close())
}

func (c *Conn) get(ctx context.Context, cmd, variable byte, objectID string, wantType byte) (*bytes.Reader, error) {
	var b buffer
	b.ubyte(variable)
	b.str(objectID)
	body, err := c.call(ctx, cmd, b.Bytes())
	if err != nil {
		return nil, err
	}
	id, payload, err := readCommand(body)
	if err != nil {
		return nil, err
	}
	if id != cmd+0x10 {
		return nil, fmt.Errorf("traci: unexpected response 0x%02x to 0x%02x", id, cmd)
	}
	gotVar, err := payload.ReadByte()
	if err != nil {
		return nil, err
	}
	gotID, err := readString(payload)
	if err != nil {
		return nil, err
	}
	if gotVar != variable || gotID != objectID {
		return nil, fmt.Errorf("traci: response for 0x%02x/%s, want 0x%02x/%s", gotVar, gotID, variable, objectID)
	}
	gotType, err := payload.ReadByte()
	if err != nil {
		return nil, err
	}
	if gotType != wantType {
		return nil, fmt.Errorf("traci: value type 0x%02x, want 0x%02x", gotType, wantType)
	}
	return payload, nil
}

// call 发送单条命令并读取状态响应
// 返回：状态响应之后的消息内容
func (c *Conn) call(ctx context.Context, cmd byte, payload []byte) (*bytes.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.c.SetDeadline(deadline)
		defer c.c.SetDeadline(time.Time{})
	}
	if err := writeMessage(c.c, command(cmd, payload)); err != nil {
		return nil, fmt.Errorf("traci: send 0x%02x: %w", cmd, err)
	}
	msg, err := readMessage(c.r)
	if err != nil {
		return nil, fmt.Errorf("traci: receive 0x%02x: %w", cmd, err)
	}
	body := bytes.NewReader(msg)
	id, status, err := readCommand(body)
	if err != nil {
		return nil, err
	}
	result, err := status.ReadByte()
	if err != nil {
		return nil, err
	}
	desc, err := readString(status)
	if err != nil {
		return nil, err
	}
	if id != cmd {
		return nil, fmt.Errorf("traci: status for 0x%02x, want 0x%02x", id, cmd)
	}
	if result != rtypeOK {
		return nil, &StatusError{Command: cmd, Result: result, Description: desc}
	}
	return body, nil
}

// 编码

type buffer struct {
	bytes.Buffer
}

func (b *buffer) ubyte(v byte) {
	b.WriteByte(v)
}

func (b *buffer) int32(v int32) {
	_ = binary.Write(b, binary.BigEndian, v)
}

func (b *buffer) double(v float64) {
	_ = binary.Write(b, binary.BigEndian, math.Float64bits(v))
}

func (b *buffer) str(s string) {
	b.int32(int32(len(s)))
	b.WriteString(s)
}

// command 按TraCI格式封装一条命令
// 说明：长度不超过255时使用单字节长度，否则以0开头加4字节长度
func command(id byte, payload []byte) []byte {
	var b buffer
	if n := 2 + len(payload); n <= math.MaxUint8 {
		b.ubyte(byte(n))
	} else {
		b.ubyte(0)
		b.int32(int32(6 + len(payload)))
	}
	b.ubyte(id)
	b.Write(payload)
	return b.Bytes()
}

func writeMessage(w io.Writer, parts ...[]byte) error {
	total := 4
	for _, p := range parts {
		total += len(p)
	}
	var b buffer
	b.int32(int32(total))
	for _, p := range parts {
		b.Write(p)
	}
	_, err := w.Write(b.Bytes())
	return err
}

// 解码

func readMessage(r io.Reader) ([]byte, error) {
	var n int32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n < 4 || n > maxMessageSize {
		return nil, fmt.Errorf("traci: invalid message length %d", n)
	}
	msg := make([]byte, n-4)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func readCommand(r *bytes.Reader) (id byte, payload *bytes.Reader, err error) {
	l, err := r.ReadByte()
	if err != nil {
		return 0, nil, fmt.Errorf("traci: read command length: %w", err)
	}
	n := int(l) - 2
	if l == 0 {
		ext, err := readInt(r)
		if err != nil {
			return 0, nil, err
		}
		n = int(ext) - 6
	}
	if id, err = r.ReadByte(); err != nil {
		return 0, nil, fmt.Errorf("traci: read command id: %w", err)
	}
	if n < 0 || n > r.Len() {
		return 0, nil, fmt.Errorf("traci: command 0x%02x length %d out of range", id, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, err
	}
	return id, bytes.NewReader(data), nil
}

func readInt(r io.Reader) (int32, error) {
	var v int32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readDouble(r io.Reader) (float64, error) {
	var v uint64
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readInt(r)
	if err != nil {
		return "", err
	}
	if n < 0 || int(n) > r.Len() {
		return "", fmt.Errorf("traci: string length %d out of range", n)
	}
	s := make([]byte, n)
	if _, err := io.ReadFull(r, s); err != nil {
		return "", err
	}
	return string(s), nil
}
