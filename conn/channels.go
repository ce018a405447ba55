package conn

import (
	"time"

	"github.com/kestrelnet/kestrel/channel"
	"github.com/kestrelnet/kestrel/config"
	"github.com/kestrelnet/kestrel/message"
	"github.com/kestrelnet/kestrel/wire"
)

// minResendDelay is the floor resend_delay(rtt) never goes below,
// regardless of how small the measured RTT is.
const minResendDelay = 100 * time.Millisecond

// resendJitter is a fixed safety margin added on top of 2*rtt, matching
// "2*rtt + jitter" from spec.md §4.D without requiring a live jitter
// estimator (no source in the retrieved corpus measures one independently
// of RTT).
const resendJitter = 30 * time.Millisecond

// buildChannels constructs one sender and one receiver per message type
// across every delivery method and channel index, per spec.md §4.D's
// table: CHANNELS_PER_METHOD (32) parallel channels for every sequenced or
// ordered method, a single channel for Unreliable and ReliableUnordered.
func buildChannels(cfg *config.Config, pool *message.Pool) (map[wire.MessageType]channel.Sender, map[wire.MessageType]channel.Receiver) {
	senders := make(map[wire.MessageType]channel.Sender)
	receivers := make(map[wire.MessageType]channel.Receiver)

	methods := []wire.DeliveryMethod{
		wire.MethodUnreliable,
		wire.MethodUnreliableSequenced,
		wire.MethodReliableUnordered,
		wire.MethodReliableSequenced,
		wire.MethodReliableOrdered,
		wire.MethodStream,
	}

	for _, method := range methods {
		window := channel.WindowSize(method)
		for ch := 0; ch < channel.NumChannels(method); ch++ {
			t, err := wire.MessageTypeFor(method, ch)
			if err != nil {
				continue
			}
			senders[t] = newSenderFor(method, window, pool)
			receivers[t] = newReceiverFor(method, window)
		}
	}
	return senders, receivers
}

func newSenderFor(method wire.DeliveryMethod, window int, pool *message.Pool) channel.Sender {
	switch method {
	case wire.MethodUnreliable, wire.MethodUnreliableSequenced:
		return channel.NewUnreliableSender(window, pool)
	default:
		return channel.NewReliableSender(window, minResendDelay, resendJitter, pool)
	}
}

func newReceiverFor(method wire.DeliveryMethod, window int) channel.Receiver {
	switch method {
	case wire.MethodUnreliable:
		return channel.NewPassthroughReceiver()
	case wire.MethodUnreliableSequenced, wire.MethodReliableSequenced:
		return channel.NewSequencedReceiver()
	case wire.MethodReliableUnordered:
		return channel.NewUnorderedReceiver(window)
	default: // MethodReliableOrdered, MethodStream
		return channel.NewOrderedReceiver(window)
	}
}
