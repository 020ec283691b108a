package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		id      int32
		typ     FrameType
		payload []byte
	}{
		{"empty payload", 1, SvrConnect, nil},
		{"text payload", 7, ChMessage, []byte("hello")},
		{"negative id", IDProtocolError, ChConnect, []byte{1, 2, 3, 4}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire := Encode(tc.id, tc.typ, tc.payload)
			id, typ, payload, err := Decode(wire)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if id != tc.id || typ != tc.typ {
				t.Fatalf("got id=%d type=%d, want id=%d type=%d", id, typ, tc.id, tc.typ)
			}
			if !bytes.Equal(payload, tc.payload) && !(len(payload) == 0 && len(tc.payload) == 0) {
				t.Fatalf("got payload %q, want %q", payload, tc.payload)
			}
		})
	}
}

func TestReadFrameMatchesEncode(t *testing.T) {
	wire := Encode(42, ChCommand, []byte("payload"))
	frame, err := ReadFrame(bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.ID != 42 || frame.Type != ChCommand || string(frame.Payload) != "payload" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestReadFrameShortRead(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2}))
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("want ErrFatal for short read, got %v", err)
	}
}

func TestReadFrameOversized(t *testing.T) {
	var sizeBuf [4]byte
	sizeBuf[0] = 0xff
	sizeBuf[1] = 0xff
	sizeBuf[2] = 0xff
	sizeBuf[3] = 0x7f
	_, err := ReadFrame(bytes.NewReader(sizeBuf[:]))
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("want ErrProtocol for oversized frame, got %v", err)
	}
}

func TestResponseIDMapping(t *testing.T) {
	if id, ok := ResponseID(ErrCapacity); !ok || id != IDCapacity {
		t.Fatalf("ErrCapacity -> want %d, got %d ok=%v", IDCapacity, id, ok)
	}
	if id, ok := ResponseID(ErrForbidden); !ok || id != IDProtocolError {
		t.Fatalf("ErrForbidden -> want %d, got %d ok=%v", IDProtocolError, id, ok)
	}
	if _, ok := ResponseID(ErrFatal); ok {
		t.Fatalf("ErrFatal should not map to a response id")
	}
}

func TestChannelInfoRoundTrip(t *testing.T) {
	info := ChannelInfo{ID: 7, Secret: true, Name: "#channel7"}
	decoded, err := DecodeChannelInfo(EncodeChannelInfo(info))
	if err != nil {
		t.Fatalf("DecodeChannelInfo: %v", err)
	}
	if decoded != info {
		t.Fatalf("got %+v, want %+v", decoded, info)
	}
}
