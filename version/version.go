package version

// Build information (injected via ldflags - must NOT have default values)
var (
	Version   string
	GitSHA    string
	BuildDate string
)

// String renders a single-line version banner for the -version flag.
func String() string {
	v, sha, d := Version, GitSHA, BuildDate
	if v == "" {
		v = "dev"
	}
	if sha == "" {
		sha = "unknown"
	}
	if d == "" {
		d = "unknown"
	}
	return "boardprov " + v + " (" + sha + ", built " + d + ")"
}
