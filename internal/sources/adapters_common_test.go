package sources

// Shared test constants.
const (
	expectedErrGotNil = "expected error, got nil"
	failedToWriteResp = "failed to write response: %v"
	expectedFmt       = "expected %q, got %q"
	testSearchTerm    = "startup founders"
	testAPIKey        = "test-key"
)
