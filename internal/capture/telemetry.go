package capture

import (
	"encoding/binary"
	"math"

	"camrec/internal/config"
)

// Telemetry 随帧记录的姿态数据 (AHRS)
// 布局: seq u64 | roll pitch yaw f32 | p q r f32，小端序，共 32 字节
type Telemetry struct {
	Seq              uint64
	Roll, Pitch, Yaw float32
	P, Q, R          float32
}

// PutTelemetry 写入 buf，buf 不足 32 字节时不写并返回 false
func PutTelemetry(buf []byte, t Telemetry) bool {
	if len(buf) < config.AHRSPayloadLen {
		return false
	}
	binary.LittleEndian.PutUint64(buf[0:8], t.Seq)
	for i, v := range [6]float32{t.Roll, t.Pitch, t.Yaw, t.P, t.Q, t.R} {
		binary.LittleEndian.PutUint32(buf[8+4*i:], math.Float32bits(v))
	}
	return true
}

// ParseTelemetry 从遥测数据块解析
func ParseTelemetry(buf []byte) (Telemetry, bool) {
	if len(buf) < config.AHRSPayloadLen {
		return Telemetry{}, false
	}
	var v [6]float32
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[8+4*i:]))
	}
	return Telemetry{
		Seq:  binary.LittleEndian.Uint64(buf[0:8]),
		Roll: v[0], Pitch: v[1], Yaw: v[2],
		P: v[3], Q: v[4], R: v[5],
	}, true
}
