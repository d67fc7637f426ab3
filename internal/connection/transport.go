package connection

import (
	"context"
	"net/http"
	"time"
)

// DialRequest describes the socket to open.
type DialRequest struct {
	Address        string
	Header         http.Header
	ConnectTimeout time.Duration
}

// Dialer opens sockets.
//
// Dial must return without invoking the sink; the open completes (or
// fails) asynchronously and is reported through the sink.
type Dialer interface {
	Dial(ctx context.Context, req DialRequest, sink Sink) Socket
}

// Socket is a live (or opening) transport handle.
type Socket interface {
	// Send enqueues a text frame. Returns false if the socket cannot take it.
	Send(text string) bool

	// SendBinary enqueues a binary frame.
	SendBinary(data []byte) bool

	// Close starts a graceful close with the given code.
	Close(code int, reason string) error
}

// Sink receives transport events. Every socket reports exactly one
// terminal event, OnClosed or OnFailure, including sockets closed locally.
type Sink interface {
	OnOpen(s Socket)
	OnText(s Socket, text string)
	OnBinary(s Socket, data []byte)
	OnClosing(s Socket, code int, reason string)
	OnClosed(s Socket, code int, reason string)
	OnFailure(s Socket, err error)
}
