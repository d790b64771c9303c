package network

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncodePacket_Layout(t *testing.T) {
	packet, err := EncodePacket(MsgTypeSnapshot, []byte(`{}`))
	if err != nil {
		t.Fatalf("EncodePacket: %v", err)
	}
	want := []byte{0x01, 0x2D, 0x00, 0x02, '{', '}'}
	if !bytes.Equal(packet, want) {
		t.Errorf("Expected % X, got % X", want, packet)
	}
}

func TestDecodePacket_ShortInput(t *testing.T) {
	if _, err := DecodePacket([]byte{0x00, 0x01, 0x00}); !errors.Is(err, io.ErrShortBuffer) {
		t.Errorf("Expected ErrShortBuffer for a truncated header, got %v", err)
	}
	if _, err := DecodePacket([]byte{0x00, 0x01, 0x00, 0x05, 0x01}); !errors.Is(err, io.ErrShortBuffer) {
		t.Errorf("Expected ErrShortBuffer for a truncated body, got %v", err)
	}
	// length near the uint16 limit must not wrap
	if _, err := DecodePacket([]byte{0x00, 0x01, 0xFF, 0xFF}); !errors.Is(err, io.ErrShortBuffer) {
		t.Errorf("Expected ErrShortBuffer for a huge declared length, got %v", err)
	}
}

func TestDecodePacket_IgnoresTrailingBytes(t *testing.T) {
	p, err := DecodePacket([]byte{0xFF, 0xFF, 0x00, 0x01, 0x01, 0xAA})
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	if p.MsgID != MsgTypeLinkState || !bytes.Equal(p.Data, []byte{0x01}) {
		t.Errorf("Unexpected packet %+v", p)
	}
}

func TestEncodePacket_TooLarge(t *testing.T) {
	if _, err := EncodePacket(1, make([]byte, 70000)); !errors.Is(err, ErrPacketTooLarge) {
		t.Errorf("Expected ErrPacketTooLarge, got %v", err)
	}
}
