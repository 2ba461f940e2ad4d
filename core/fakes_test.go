package core

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/lisuiheng/qinghe-go/pkg/interfaces"
	"github.com/lisuiheng/qinghe-go/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSession 记录调用顺序，begin 的结果可以预设
type fakeSession struct {
	mu       sync.Mutex
	ops      []string
	beginRes session.Result
}

func (s *fakeSession) record(op string, res session.Result) session.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
	return res
}

func (s *fakeSession) begin() session.Result {
	s.mu.Lock()
	res := s.beginRes
	s.mu.Unlock()
	return res
}

func (s *fakeSession) BeginVoiceMessage() session.Result {
	return s.record("begin_voice", s.begin())
}

func (s *fakeSession) EndVoiceMessage() session.Result {
	return s.record("end_voice", session.Result{Outcome: session.OutcomeApplied})
}

func (s *fakeSession) BeginBackgroundRecording() session.Result {
	return s.record("begin_recording", s.begin())
}

func (s *fakeSession) EndBackgroundRecording() session.Result {
	return s.record("end_recording", session.Result{Outcome: session.OutcomeApplied})
}

func (s *fakeSession) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

// fakeRecorder 每隔 interval 输出一帧 frame，直到 ctx 取消
type fakeRecorder struct {
	frame    []byte
	interval time.Duration
	err      error
}

func (r *fakeRecorder) Record(ctx context.Context, dataChan chan<- []byte) error {
	if r.err != nil {
		return r.err
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			data := append([]byte(nil), r.frame...)
			select {
			case dataChan <- data:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

type fakeDecoder struct{}

func (fakeDecoder) Decode(data []byte) ([]int16, error) {
	return []int16{int16(len(data))}, nil
}

type fakePlayer struct {
	mu     sync.Mutex
	frames [][]int16
}

func (p *fakePlayer) Play(data []int16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, data)
	return nil
}

func (p *fakePlayer) Close() error { return nil }

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// fakeTransport 内存传输，drop 模拟服务器断开
type fakeTransport struct {
	mu         sync.Mutex
	sent       []interfaces.Message
	recv       chan interfaces.Message
	connectErr error
	dropOnce   sync.Once
	closed     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{recv: make(chan interfaces.Message, 16)}
}

func (t *fakeTransport) Connect(context.Context) error { return t.connectErr }

func (t *fakeTransport) Send(data []byte, msgType interfaces.MessageType) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return interfaces.ErrNotConnected
	}
	t.sent = append(t.sent, interfaces.Message{Payload: data, Type: msgType})
	return nil
}

func (t *fakeTransport) Receive() <-chan interfaces.Message { return t.recv }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.drop()
	return nil
}

func (t *fakeTransport) ProtocolType() string { return "fake" }

func (t *fakeTransport) drop() {
	t.dropOnce.Do(func() { close(t.recv) })
}

func (t *fakeTransport) push(v any) {
	data, _ := json.Marshal(v)
	t.recv <- interfaces.Message{Payload: data, Type: interfaces.MsgText}
}

// textMessages 已发送的 JSON 消息
func (t *fakeTransport) textMessages() []message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []message
	for _, m := range t.sent {
		if m.Type != interfaces.MsgText {
			continue
		}
		var msg message
		if err := json.Unmarshal(m.Payload, &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (t *fakeTransport) binaryCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, m := range t.sent {
		if m.Type == interfaces.MsgBinary {
			n++
		}
	}
	return n
}

func (t *fakeTransport) hasText(typ, state string) bool {
	for _, m := range t.textMessages() {
		if m.Type == typ && m.State == state {
			return true
		}
	}
	return false
}

// fixedBackoff 测试里用的固定短间隔
type fixedBackoff struct{ delay time.Duration }

func (b fixedBackoff) NextDelay() time.Duration { return b.delay }
func (b fixedBackoff) Reset()                   {}
