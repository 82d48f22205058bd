package bootstrap

// ExitError carries an explicit process exit code out of run(), mirroring
// a Lua script's os.exit(n) or a parse failure's conventional code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return "exit"
}
