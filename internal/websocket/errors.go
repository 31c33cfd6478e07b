package websocket

import "errors"

var ErrClientBufferFull = errors.New("client send buffer is full")
