package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Node
	FieldNode      = "node"
	FieldComponent = "component"

	// Tally
	FieldCameraID = "camera_id"
	FieldState    = "state"
	FieldSlot     = "slot"
	FieldConnID   = "conn_id"
	FieldIdentity = "identity"
	FieldLink     = "link"
)
