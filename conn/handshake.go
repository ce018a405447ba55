package conn

import (
	"time"

	"github.com/kestrelnet/kestrel/bitio"
)

// handshakePayload is the shared shape of Connect and ConnectResponse:
// varstring(app_id), i64(local_unique_id), time(now), optional hail bytes.
type handshakePayload struct {
	AppIdentifier string
	UniqueID      int64
	SentAt        time.Time
	Hail          []byte
}

func encodeHandshake(buf *bitio.BitBuffer, p handshakePayload) {
	buf.WriteString(p.AppIdentifier)
	buf.WriteI64(p.UniqueID)
	buf.WriteTimeSpan(time.Duration(p.SentAt.UnixNano()))
	buf.WriteVarUint64(uint64(len(p.Hail)))
	buf.WriteBits(p.Hail, 0, len(p.Hail)*8)
}

func decodeHandshake(buf *bitio.BitBuffer) (handshakePayload, error) {
	var p handshakePayload
	appID, err := buf.ReadString()
	if err != nil {
		return p, err
	}
	uid, err := buf.ReadI64()
	if err != nil {
		return p, err
	}
	ticks, err := buf.ReadTimeSpan()
	if err != nil {
		return p, err
	}
	hailLen, err := buf.ReadVarUint64()
	if err != nil {
		return p, err
	}
	hail := make([]byte, hailLen)
	if hailLen > 0 {
		if err := buf.ReadBits(hail, int(hailLen)*8); err != nil {
			return p, err
		}
	}
	p.AppIdentifier = appID
	p.UniqueID = uid
	p.SentAt = time.Unix(0, int64(ticks))
	p.Hail = hail
	return p, nil
}

// encodeConnectionEstablished writes the ConnectionEstablished payload,
// which carries only a timestamp, used by the receiver to seed
// remote_time_offset.
func encodeConnectionEstablished(buf *bitio.BitBuffer, now time.Time) {
	buf.WriteTimeSpan(time.Duration(now.UnixNano()))
}

func decodeConnectionEstablished(buf *bitio.BitBuffer) (time.Time, error) {
	ticks, err := buf.ReadTimeSpan()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, int64(ticks)), nil
}

func encodeDisconnect(buf *bitio.BitBuffer, reason string) {
	buf.WriteString(reason)
}

func decodeDisconnect(buf *bitio.BitBuffer) (string, error) {
	return buf.ReadString()
}
