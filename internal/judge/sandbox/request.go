package sandbox

// initRequest is the wire format handed to the sandbox-init helper on
// stdin. The helper decodes a subset of these fields by name, so
// renames here must be mirrored in cmd/sandbox-init.
type initRequest struct {
	RunSpec       RunSpec
	Isolation     IsolationProfile
	EnableSeccomp bool
	EnableNs      bool
}
