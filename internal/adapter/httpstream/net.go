package httpstream

import (
	"encoding/json"
	"net"
)

func newListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
