package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lisuiheng/qinghe-go/pkg/interfaces"
	"github.com/lisuiheng/qinghe-go/protocols/websocket"
	"github.com/lisuiheng/qinghe-go/session"
	"github.com/lisuiheng/qinghe-go/utils"
)

// VoiceSession 语音消息需要的会话操作，由 session.Arbiter 实现
type VoiceSession interface {
	BeginVoiceMessage() session.Result
	EndVoiceMessage() session.Result
}

// Dependencies 客户端的外部依赖，音频实现由调用方注入
type Dependencies struct {
	Session  VoiceSession
	Recorder interfaces.Recorder // 输出 opus 帧
	Decoder  interfaces.Decoder
	Player   interfaces.AudioPlayer
	// NewTransport 为空时按配置创建 websocket 连接
	NewTransport func() (interfaces.TransportProtocol, error)
	Backoff      utils.ReconnectStrategy
}

// DeviceState 表示设备状态
type DeviceState string

const (
	DeviceStateUnknown      DeviceState = "unknown"
	DeviceStateConnecting   DeviceState = "connecting"
	DeviceStateIdle         DeviceState = "idle"
	DeviceStatePlaying      DeviceState = "playing"   // 正在播放收到的语音消息
	DeviceStateRecording    DeviceState = "recording" // 正在录制并发送语音消息
	DeviceStateDisconnected DeviceState = "disconnected"
)

// Status 包含客户端状态信息
type Status struct {
	State     DeviceState
	SessionID string
	MessageID string
	Connected bool
}

type capture struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Client struct {
	config Config
	deps   Dependencies
	logger *slog.Logger

	mu        sync.Mutex
	state     DeviceState
	sessionID string
	messageID string
	transport interfaces.TransportProtocol
	capture   *capture

	closeChan chan struct{}
	closeOnce sync.Once
}

// message 服务器与客户端之间的 JSON 信封
type message struct {
	Type        string       `json:"type"`
	State       string       `json:"state,omitempty"`
	SessionID   string       `json:"session_id,omitempty"`
	MessageID   string       `json:"message_id,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Message     string       `json:"message,omitempty"`
	Version     int          `json:"version,omitempty"`
	Transport   string       `json:"transport,omitempty"`
	AudioParams *audioParams `json:"audio_params,omitempty"`
}

type audioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// NewClient 创建语音消息客户端
func NewClient(cfg Config, deps Dependencies, log *slog.Logger) (*Client, error) {
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if deps.Session == nil || deps.Recorder == nil || deps.Decoder == nil || deps.Player == nil {
		return nil, errors.New("client dependencies are incomplete")
	}
	if deps.NewTransport == nil {
		deps.NewTransport = func() (interfaces.TransportProtocol, error) {
			return NewProtocol(cfg)
		}
	}
	if deps.Backoff == nil {
		deps.Backoff = utils.NewExponentialBackoffWith(
			cfg.System.Network.Reconnect.Initial,
			cfg.System.Network.Reconnect.Max)
	}

	return &Client{
		config:    cfg,
		deps:      deps,
		logger:    log,
		state:     DeviceStateUnknown,
		closeChan: make(chan struct{}),
	}, nil
}

// Run 连接服务器并处理消息，断线后按退避间隔重连，直到 ctx 取消或 Close
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("Starting client main loop")
	defer c.logger.Info("Client main loop stopped")

	for {
		transport, err := c.connect(ctx)
		if err == nil {
			c.deps.Backoff.Reset()
			c.serve(ctx, transport)
			c.disconnect(transport)
		} else {
			c.logger.Warn("Failed to connect to server", "error", err)
		}

		if c.stopped(ctx) {
			return nil
		}
		delay := c.deps.Backoff.NextDelay()
		c.logger.Info("Reconnecting", "delay", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-c.closeChan:
			return nil
		case <-time.After(delay):
		}
	}
}

func (c *Client) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.closeChan:
		return true
	default:
		return false
	}
}

func (c *Client) connect(ctx context.Context) (interfaces.TransportProtocol, error) {
	c.mu.Lock()
	c.setStateLocked(DeviceStateConnecting)
	c.mu.Unlock()

	transport, err := c.deps.NewTransport()
	if err == nil {
		c.logger.Info("Connecting to server", "transport", transport.ProtocolType())
		err = transport.Connect(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.setStateLocked(DeviceStateDisconnected)
		return nil, err
	}
	c.transport = transport

	hello := message{
		Type:      "hello",
		Version:   1,
		Transport: transport.ProtocolType(),
		AudioParams: &audioParams{
			Format:        "opus",
			SampleRate:    c.config.Audio.SampleRate,
			Channels:      c.config.Audio.Channels,
			FrameDuration: c.config.Audio.FrameDuration,
		},
	}
	if err := c.sendJSONLocked(hello); err != nil {
		c.transport = nil
		_ = transport.Close()
		c.setStateLocked(DeviceStateDisconnected)
		return nil, fmt.Errorf("failed to send hello message: %w", err)
	}

	c.logger.Info("Connected to server successfully")
	c.setStateLocked(DeviceStateIdle)
	return transport, nil
}

func (c *Client) serve(ctx context.Context, transport interfaces.TransportProtocol) {
	msgChan := transport.Receive()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		case msg, ok := <-msgChan:
			if !ok {
				c.logger.Warn("Server connection closed", "error", ErrConnectionLost)
				return
			}
			var err error
			switch msg.Type {
			case interfaces.MsgText:
				err = c.handleTextMessage(msg.Payload)
			case interfaces.MsgBinary:
				err = c.handleBinaryMessage(msg.Payload)
			}
			if err != nil {
				c.logger.Error("Failed to handle message", "type", msg.Type, "error", err)
			}
		}
	}
}

// disconnect 释放语音消息占用的会话并关闭连接
func (c *Client) disconnect(transport interfaces.TransportProtocol) {
	c.mu.Lock()
	if c.transport == transport {
		c.releaseLocked()
		c.transport = nil
		c.setStateLocked(DeviceStateDisconnected)
	}
	c.mu.Unlock()

	if err := transport.Close(); err != nil {
		c.logger.Debug("Failed to close transport", "error", err)
	}
}

// StartVoiceMessage 开始录制并发送一条语音消息
func (c *Client) StartVoiceMessage() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport == nil {
		return interfaces.ErrNotConnected
	}
	if c.state != DeviceStateIdle {
		return fmt.Errorf("%w (current: %s)", ErrNotIdle, c.state)
	}

	if err := c.beginVoiceLocked(); err != nil {
		return err
	}

	id := uuid.NewString()
	start := message{Type: "voice", State: "start", SessionID: c.sessionID, MessageID: id}
	if err := c.sendJSONLocked(start); err != nil {
		c.endVoiceLocked()
		return fmt.Errorf("failed to send voice start: %w", err)
	}

	c.messageID = id
	c.startCaptureLocked(c.transport)
	c.setStateLocked(DeviceStateRecording)
	return nil
}

// StopVoiceMessage 结束录制，通知服务器并归还会话
func (c *Client) StopVoiceMessage() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != DeviceStateRecording {
		return fmt.Errorf("%w (current: %s)", ErrNoVoiceMessage, c.state)
	}

	c.stopCaptureLocked()
	stop := message{Type: "voice", State: "stop", SessionID: c.sessionID, MessageID: c.messageID}
	err := c.sendJSONLocked(stop)
	c.endVoiceLocked()
	if err != nil {
		return fmt.Errorf("failed to send voice stop: %w", err)
	}
	return nil
}

func (c *Client) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:     c.state,
		SessionID: c.sessionID,
		MessageID: c.messageID,
		Connected: c.transport != nil,
	}
}

func (c *Client) GetState() DeviceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close 停止主循环，释放会话并关闭连接
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.logger.Info("Closing client connection")
		close(c.closeChan)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.releaseLocked()
		if c.transport != nil {
			err = c.transport.Close()
			c.transport = nil
		}
		c.setStateLocked(DeviceStateDisconnected)
	})
	return err
}

func (c *Client) setStateLocked(newState DeviceState) {
	if c.state == newState {
		return
	}
	c.logger.Info("State changed", "from", c.state, "to", newState)
	c.state = newState
}

func (c *Client) sendJSONLocked(msg message) error {
	if c.transport == nil {
		return interfaces.ErrNotConnected
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	c.logger.Debug("Sending JSON message", "json", string(data))
	return c.transport.Send(data, interfaces.MsgText)
}

// beginVoiceLocked 申请会话；失败时立即归还，让被暂停的白噪音恢复
func (c *Client) beginVoiceLocked() error {
	res := c.deps.Session.BeginVoiceMessage()
	if res.OK() {
		return nil
	}
	c.deps.Session.EndVoiceMessage()
	return fmt.Errorf("audio session unavailable: %w", res.Err)
}

func (c *Client) endVoiceLocked() {
	res := c.deps.Session.EndVoiceMessage()
	if !res.OK() {
		c.logger.Warn("Audio session not restored after voice message", "outcome", res.Outcome)
	}
	c.messageID = ""
	c.setStateLocked(DeviceStateIdle)
}

// releaseLocked 断线或关闭时结束进行中的语音消息
func (c *Client) releaseLocked() {
	switch c.state {
	case DeviceStateRecording:
		c.stopCaptureLocked()
		c.endVoiceLocked()
	case DeviceStatePlaying:
		c.endVoiceLocked()
	}
}

func (c *Client) startCaptureLocked(transport interfaces.TransportProtocol) {
	ctx, cancel := context.WithCancel(context.Background())
	cp := &capture{cancel: cancel, done: make(chan struct{})}
	c.capture = cp

	frames := make(chan []byte, 100)
	recErr := make(chan error, 1)
	go func() {
		recErr <- c.deps.Recorder.Record(ctx, frames)
	}()

	go func() {
		defer close(cp.done)
		for {
			select {
			case data := <-frames:
				if err := transport.Send(data, interfaces.MsgBinary); err != nil {
					c.logger.Warn("Failed to send audio frame", "error", err)
				}
			case err := <-recErr:
				if err != nil {
					c.logger.Error("Audio recording failed", "error", err)
				}
				return
			}
		}
	}()
}

func (c *Client) stopCaptureLocked() {
	if c.capture == nil {
		return
	}
	c.capture.cancel()
	<-c.capture.done
	c.capture = nil
}

func (c *Client) handleTextMessage(data []byte) error {
	if len(data) == 0 {
		c.logger.Debug("Empty message received")
		return nil
	}
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	c.logger.Debug("Handling message", "type", msg.Type, "state", msg.State)

	switch msg.Type {
	case "hello":
		return c.handleHello(msg)
	case "voice":
		return c.handleVoice(msg)
	case "abort":
		return c.handleAbort(msg)
	case "error":
		c.logger.Error("Received error message", "session_id", msg.SessionID, "error", msg.Message)
		return fmt.Errorf("%w: session %s: %s", ErrServerError, msg.SessionID, msg.Message)
	case "":
		return errors.New("message type is missing")
	default:
		c.logger.Warn("Unknown message type received", "type", msg.Type)
		return nil
	}
}

func (c *Client) handleHello(msg message) error {
	if msg.SessionID == "" {
		return errors.New("hello response missing session_id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = msg.SessionID
	c.logger.Info("Received hello response from server", "session_id", msg.SessionID)
	return nil
}

func (c *Client) handleVoice(msg message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.State {
	case "start":
		switch c.state {
		case DeviceStateRecording:
			c.logger.Warn("Ignoring incoming voice message while recording", "message_id", msg.MessageID)
			return nil
		case DeviceStatePlaying:
			c.messageID = msg.MessageID
			return nil
		}
		if err := c.beginVoiceLocked(); err != nil {
			return err
		}
		c.messageID = msg.MessageID
		c.setStateLocked(DeviceStatePlaying)
		c.logger.Info("Incoming voice message", "message_id", msg.MessageID)
	case "stop":
		if c.state != DeviceStatePlaying {
			c.logger.Debug("Voice stop without active playback", "state", c.state)
			return nil
		}
		c.endVoiceLocked()
	default:
		return fmt.Errorf("unknown voice state %q", msg.State)
	}
	return nil
}

func (c *Client) handleAbort(msg message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Info("Voice message aborted", "reason", msg.Reason, "state", c.state)
	c.releaseLocked()
	return nil
}

func (c *Client) handleBinaryMessage(data []byte) error {
	if c.GetState() != DeviceStatePlaying {
		c.logger.Debug("Dropping unexpected binary message", "size", len(data))
		return nil
	}
	pcm, err := c.deps.Decoder.Decode(data)
	if err != nil {
		return fmt.Errorf("audio decode failed: %w", err)
	}
	if err := c.deps.Player.Play(pcm); err != nil {
		return fmt.Errorf("audio play failed: %w", err)
	}
	return nil
}

// NewProtocol 根据配置创建对应的协议实例
func NewProtocol(cfg Config) (interfaces.TransportProtocol, error) {
	switch cfg.System.Network.Transport {
	case "websocket":
		ws := cfg.System.Network.Websocket
		p, err := websocket.NewWebSocketProtocol(websocket.Config{
			URL:             ws.URL,
			ProtocolVersion: ws.ProtocolVersion,
			AccessToken:     ws.AccessToken,
			DeviceID:        cfg.System.DeviceID,
			ClientID:        cfg.System.ClientID,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, cfg.System.Network.Transport)
	}
}
