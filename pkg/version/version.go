package version

// Release version injected by the linker, e.g. -ldflags "-X github.com/majednitol/scai-solana-bridge/pkg/version.version=v1.2.0".
var version = "development"

func Version() string {
	if version == "" {
		panic("binary compiled with empty version")
	}
	return version
}
