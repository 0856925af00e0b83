package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext(t *testing.T) {
	t.Parallel()

	var nilCtx *Context
	assert.Equal(t, "unknown", nilCtx.GetVersion())
	assert.Equal(t, "unknown (built unknown)", (&Context{}).String())

	c := &Context{Version: "v1.2.0", BuildDate: "2024-06-01"}
	assert.Equal(t, "v1.2.0", c.GetVersion())
	assert.Equal(t, "v1.2.0 (built 2024-06-01)", c.String())
}
