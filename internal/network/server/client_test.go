package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClientConnectionIDs(t *testing.T) {
	// Two tabs of the same player are two connections; the id is what
	// tells their log lines apart.
	a := newClient(nil, nil, "p1", "AAAAA", "1.2.3.4")
	b := newClient(nil, nil, "p1", "AAAAA", "1.2.3.4")

	assert.NotEmpty(t, a.id)
	assert.NotEmpty(t, b.id)
	assert.NotEqual(t, a.id, b.id)
}
