// Package chainwatch listens for block announcements from a node's ZMQ
// publisher and asks the refresher for a new job on every block.
package chainwatch

import (
	"context"
	"encoding/hex"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/powminer/pkg/errors"
	"github.com/bardlex/powminer/pkg/log"
)

// DefaultTopic is the node notification announcing a new block hash.
const DefaultTopic = "hashblock"

// pollInterval bounds how long Listen blocks before checking its context.
const pollInterval = 500 * time.Millisecond

// Trigger requests an out-of-band refresh.
type Trigger interface {
	Trigger()
}

// Watcher handles ZMQ notifications from a node
type Watcher struct {
	socket   *zmq.Socket
	endpoint string
	topic    string
	trigger  Trigger
	logger   *log.Logger
	seen     uint64
}

// NewWatcher creates a SUB socket for endpoint. An empty topic means DefaultTopic.
func NewWatcher(endpoint, topic string, trigger Trigger, logger *log.Logger) (*Watcher, error) {
	if topic == "" {
		topic = DefaultTopic
	}

	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_socket", "failed to create ZMQ socket")
	}
	if err := socket.SetRcvtimeo(pollInterval); err != nil {
		socket.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_socket", "failed to set receive timeout")
	}

	return &Watcher{
		socket:   socket,
		endpoint: endpoint,
		topic:    topic,
		trigger:  trigger,
		logger:   logger.WithComponent("chainwatch"),
	}, nil
}

// Connect subscribes to the topic and connects to the endpoint
func (w *Watcher) Connect() error {
	if err := w.socket.SetSubscribe(w.topic); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_subscribe", "failed to subscribe").
			WithContext("topic", w.topic)
	}
	if err := w.socket.Connect(w.endpoint); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_connect", "failed to connect to ZMQ endpoint").
			WithContext("endpoint", w.endpoint)
	}
	w.logger.Info("connected to ZMQ endpoint", "endpoint", w.endpoint, "topic", w.topic)
	return nil
}

// Listen receives notifications until ctx is cancelled
func (w *Watcher) Listen(ctx context.Context) error {
	w.logger.Info("starting ZMQ listener")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("ZMQ listener stopping", "notifications", w.seen)
			return nil
		default:
		}

		msg, err := w.socket.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			if zmq.AsErrno(err) == zmq.ETERM {
				return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_receive", "ZMQ context terminated")
			}
			w.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}

		w.handle(msg)
	}
}

// handle processes one multipart message: topic, body, and optional sequence.
func (w *Watcher) handle(msg [][]byte) {
	if len(msg) < 2 {
		w.logger.Warn("received malformed ZMQ message", "parts", len(msg))
		return
	}

	topic := string(msg[0])
	if topic != w.topic {
		w.logger.Debug("ignoring ZMQ topic", "topic", topic)
		return
	}

	w.seen++
	w.logger.Info("chain notification", "topic", topic, "hash", reverseHex(msg[1]))
	w.trigger.Trigger()
}

// Close closes the ZMQ socket
func (w *Watcher) Close() error {
	if w.socket != nil {
		return w.socket.Close()
	}
	return nil
}

// reverseHex renders a node hash in display byte order
func reverseHex(data []byte) string {
	reversed := make([]byte, len(data))
	for i := range data {
		reversed[i] = data[len(data)-1-i]
	}
	return hex.EncodeToString(reversed)
}
