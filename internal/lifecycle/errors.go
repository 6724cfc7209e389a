package lifecycle

import "errors"

var (
	// ErrNameInUse means a server with the requested name already exists.
	// The pre-create check and the create itself can both report it; two
	// callers racing for one name lose to the API server, not to each
	// other.
	ErrNameInUse = errors.New("server name already in use")

	// ErrControlPlaneNotFound means no running control plane pod could be
	// resolved to own the new resources. Creation refuses to proceed
	// rather than leave servers unowned.
	ErrControlPlaneNotFound = errors.New("control plane pod not found")

	// ErrNotDynamic guards statically installed servers from lifecycle
	// mutations.
	ErrNotDynamic = errors.New("server is not managed by the control plane")

	// ErrServerNotFound means the named server has no deployment.
	ErrServerNotFound = errors.New("server not found")

	// ErrInvalidRequest covers malformed creation requests.
	ErrInvalidRequest = errors.New("invalid server request")
)
