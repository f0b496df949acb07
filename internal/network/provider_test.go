package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		protocol string
		host     string
		port     int
		expected string
	}{
		{"tcp", "tcp", "joblb", 8765, "tcp://joblb:8765"},
		{"default protocol", "", "127.0.0.1", 8766, "tcp://127.0.0.1:8766"},
		{"ipc", "inproc", "broker", 1, "inproc://broker:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Endpoint(tt.protocol, tt.host, tt.port))
		})
	}
}

func TestBindEndpoint(t *testing.T) {
	assert.Equal(t, "tcp://*:8765", BindEndpoint("tcp", 8765))
	assert.Equal(t, "tcp://*:8766", BindEndpoint("", 8766))
}
