// Package buildinfo carries build-time metadata injected at startup.
package buildinfo

// Context holds values set with -ldflags at build time.
type Context struct {
	Version   string
	BuildDate string
}

const unknown = "unknown"

// GetVersion returns the build version or "unknown".
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return unknown
	}
	return c.Version
}

// GetBuildDate returns the build date or "unknown".
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return unknown
	}
	return c.BuildDate
}

// String formats the context for --version output.
func (c *Context) String() string {
	return c.GetVersion() + " (built " + c.GetBuildDate() + ")"
}
