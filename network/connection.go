// network/connection.go
package network

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// HeaderSize is the 2-byte message id plus the 2-byte body length.
const HeaderSize = 4

var ErrPacketTooLarge = errors.New("packet body exceeds 65535 bytes")

type Packet struct {
	MsgID  uint16
	Data   []byte
	Length uint16
}

type Connection interface {
	Send(msgID uint16, data []byte) error
	Close() error
	RemoteAddr() net.Addr
	SetHeartbeat(interval time.Duration)
	ReadPacket() (*Packet, error)
}

// EncodePacket frames data as msg id, length, body, all big-endian.
func EncodePacket(msgID uint16, data []byte) ([]byte, error) {
	if len(data) > math.MaxUint16 {
		return nil, ErrPacketTooLarge
	}
	packet := make([]byte, HeaderSize+len(data))
	binary.BigEndian.PutUint16(packet[0:2], msgID)
	binary.BigEndian.PutUint16(packet[2:4], uint16(len(data)))
	copy(packet[HeaderSize:], data)
	return packet, nil
}

// DecodePacket parses one frame. Trailing bytes past the declared length
// are ignored.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, io.ErrShortBuffer
	}
	msgID := binary.BigEndian.Uint16(data[0:2])
	length := binary.BigEndian.Uint16(data[2:4])
	if len(data) < HeaderSize+int(length) {
		return nil, io.ErrShortBuffer
	}
	return &Packet{
		MsgID:  msgID,
		Length: length,
		Data:   data[HeaderSize : HeaderSize+int(length)],
	}, nil
}

type WSConnection struct {
	conn      *websocket.Conn
	sendMutex sync.Mutex
	heartbeat time.Duration
}

func NewWSConnection(conn *websocket.Conn) *WSConnection {
	return &WSConnection{conn: conn}
}

func (c *WSConnection) Send(msgID uint16, data []byte) error {
	packet, err := EncodePacket(msgID, data)
	if err != nil {
		return err
	}
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()
	if c.heartbeat > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.heartbeat))
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, packet)
}

func (c *WSConnection) ReadPacket() (*Packet, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if c.heartbeat > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.heartbeat * 2))
	}
	return DecodePacket(data)
}

// SetHeartbeat makes reads fail when nothing, not even a heartbeat, arrives
// for two intervals.
func (c *WSConnection) SetHeartbeat(interval time.Duration) {
	c.heartbeat = interval
	c.conn.SetReadDeadline(time.Now().Add(interval * 2))
}

func (c *WSConnection) Close() error {
	return c.conn.Close()
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
