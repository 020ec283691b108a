package protocol

import (
	"encoding/binary"
	"fmt"
)

// ChannelInfo is the CH_CONNECT success response payload: id:u32 | secret:u8
// | name:utf8.
type ChannelInfo struct {
	ID     uint32
	Secret bool
	Name   string
}

func EncodeChannelInfo(info ChannelInfo) []byte {
	buf := make([]byte, 4+1+len(info.Name))
	binary.LittleEndian.PutUint32(buf[0:4], info.ID)
	if info.Secret {
		buf[4] = 1
	}
	copy(buf[5:], info.Name)
	return buf
}

func DecodeChannelInfo(payload []byte) (ChannelInfo, error) {
	if len(payload) < 5 {
		return ChannelInfo{}, fmt.Errorf("%w: channel info payload too short", ErrProtocol)
	}
	return ChannelInfo{
		ID:     binary.LittleEndian.Uint32(payload[0:4]),
		Secret: payload[4] != 0,
		Name:   string(payload[5:]),
	}, nil
}

// ChConnectRequest is CH_CONNECT's request payload: create_flag:u8 |
// channel_id:u32 | invite_token. The optional invite_token is not used by
// this relay: any bytes after channel_id are ignored on decode and not
// written on encode.
type ChConnectRequest struct {
	Create    bool
	ChannelID uint32
}

func DecodeChConnectRequest(payload []byte) (ChConnectRequest, error) {
	if len(payload) < 5 {
		return ChConnectRequest{}, fmt.Errorf("%w: CH_CONNECT payload too short", ErrProtocol)
	}
	return ChConnectRequest{
		Create:    payload[0] != 0,
		ChannelID: binary.LittleEndian.Uint32(payload[1:5]),
	}, nil
}

func EncodeChConnectRequest(req ChConnectRequest) []byte {
	buf := make([]byte, 5)
	if req.Create {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[1:5], req.ChannelID)
	return buf
}

// DecodeChDisconnect parses CH_DISCONNECT's channel_id:u32 payload.
func DecodeChDisconnect(payload []byte) (channelID uint32, err error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("%w: CH_DISCONNECT payload too short", ErrProtocol)
	}
	return binary.LittleEndian.Uint32(payload[0:4]), nil
}

func EncodeChDisconnect(channelID uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, channelID)
	return buf
}

// ChMessageRequest is CH_MESSAGE's client->server payload: channel_id:u32 |
// text:utf8.
type ChMessageRequest struct {
	ChannelID uint32
	Text      string
}

func DecodeChMessageRequest(payload []byte) (ChMessageRequest, error) {
	if len(payload) < 4 {
		return ChMessageRequest{}, fmt.Errorf("%w: CH_MESSAGE payload too short", ErrProtocol)
	}
	return ChMessageRequest{
		ChannelID: binary.LittleEndian.Uint32(payload[0:4]),
		Text:      string(payload[4:]),
	}, nil
}

func EncodeChMessageRequest(req ChMessageRequest) []byte {
	buf := make([]byte, 4+len(req.Text))
	binary.LittleEndian.PutUint32(buf[0:4], req.ChannelID)
	copy(buf[4:], req.Text)
	return buf
}

// ChMessageBroadcast is CH_MESSAGE's server->client broadcast payload:
// channel_id:u32 | sender_id:u32 | text:utf8.
type ChMessageBroadcast struct {
	ChannelID uint32
	SenderID  uint32
	Text      string
}

func EncodeChMessageBroadcast(msg ChMessageBroadcast) []byte {
	buf := make([]byte, 4+4+len(msg.Text))
	binary.LittleEndian.PutUint32(buf[0:4], msg.ChannelID)
	binary.LittleEndian.PutUint32(buf[4:8], msg.SenderID)
	copy(buf[8:], msg.Text)
	return buf
}

func DecodeChMessageBroadcast(payload []byte) (ChMessageBroadcast, error) {
	if len(payload) < 8 {
		return ChMessageBroadcast{}, fmt.Errorf("%w: CH_MESSAGE broadcast payload too short", ErrProtocol)
	}
	return ChMessageBroadcast{
		ChannelID: binary.LittleEndian.Uint32(payload[0:4]),
		SenderID:  binary.LittleEndian.Uint32(payload[4:8]),
		Text:      string(payload[8:]),
	}, nil
}

// ChCommandRequest is CH_COMMAND's payload: cmd:u8 | channel_id:u32 |
// arg:bytes. arg is command-specific: a u32 target id for KICK/INVITE/
// PROMOTE_*, or UTF-8 text for RENAME/PIN.
type ChCommandRequest struct {
	Cmd       Command
	ChannelID uint32
	Arg       []byte
}

func DecodeChCommandRequest(payload []byte) (ChCommandRequest, error) {
	if len(payload) < 5 {
		return ChCommandRequest{}, fmt.Errorf("%w: CH_COMMAND payload too short", ErrProtocol)
	}
	return ChCommandRequest{
		Cmd:       Command(payload[0]),
		ChannelID: binary.LittleEndian.Uint32(payload[1:5]),
		Arg:       payload[5:],
	}, nil
}

func EncodeChCommandRequest(req ChCommandRequest) []byte {
	buf := make([]byte, 5+len(req.Arg))
	buf[0] = byte(req.Cmd)
	binary.LittleEndian.PutUint32(buf[1:5], req.ChannelID)
	copy(buf[5:], req.Arg)
	return buf
}

// ArgAsUint32 interprets a ChCommandRequest's arg as a little-endian u32
// target client id, for KICK / INVITE / PROMOTE_EMPEROR / PROMOTE_MOD.
func ArgAsUint32(arg []byte) (uint32, error) {
	if len(arg) < 4 {
		return 0, fmt.Errorf("%w: command arg too short for u32", ErrProtocol)
	}
	return binary.LittleEndian.Uint32(arg), nil
}

// ChDestroyBroadcast is CH_DESTROY's payload: channel_id:u32 | reason:utf8.
type ChDestroyBroadcast struct {
	ChannelID uint32
	Reason    string
}

func EncodeChDestroyBroadcast(msg ChDestroyBroadcast) []byte {
	buf := make([]byte, 4+len(msg.Reason))
	binary.LittleEndian.PutUint32(buf[0:4], msg.ChannelID)
	copy(buf[4:], msg.Reason)
	return buf
}

func DecodeChDestroyBroadcast(payload []byte) (ChDestroyBroadcast, error) {
	if len(payload) < 4 {
		return ChDestroyBroadcast{}, fmt.Errorf("%w: CH_DESTROY payload too short", ErrProtocol)
	}
	return ChDestroyBroadcast{
		ChannelID: binary.LittleEndian.Uint32(payload[0:4]),
		Reason:    string(payload[4:]),
	}, nil
}
