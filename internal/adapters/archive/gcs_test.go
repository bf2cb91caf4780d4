package archive

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestAlreadyExists(t *testing.T) {
	assert.True(t, alreadyExists(&googleapi.Error{Code: http.StatusPreconditionFailed}))
	assert.True(t, alreadyExists(fmt.Errorf("close: %w", &googleapi.Error{Code: 412})))
	assert.True(t, alreadyExists(errors.Join(nil, &googleapi.Error{Code: 412})))
	assert.False(t, alreadyExists(&googleapi.Error{Code: http.StatusForbidden}))
	assert.False(t, alreadyExists(errors.New("network")))
	assert.False(t, alreadyExists(nil))
}

func TestObjectName(t *testing.T) {
	g := NewGCS(nil, "audio", zerolog.Nop())
	assert.Equal(t, "audio/foo/Foo_001_a_20241201.mp3", g.ObjectName("foo", "/tmp/downloads/Foo_001_a_20241201.mp3"))

	g = NewGCS(nil, "", zerolog.Nop())
	assert.Equal(t, "foo/a.mp3", g.ObjectName("foo", "a.mp3"))
}
