package flows

// Deps groups flow dependency sets. The Manager builds this once and delegates
// each operation to the matching flow implementation.
type Deps struct {
	Refresh   RefreshDeps
	Execute   ExecuteDeps
	Login     LoginDeps
	Logout    LogoutDeps
	Bootstrap BootstrapDeps
}
